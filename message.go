package main

const (
	MsgModelResident = "Model loaded and kept resident"

	MsgModelLazy = "Model will be fetched on first prediction"

	MsgModelDiscard = "Model is fetched and discarded for every prediction"
)
