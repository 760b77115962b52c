package providers

import (
	"math/rand/v2"
	"time"
)

// TimestampLayout is the ISO-8601 form used for response timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Joke is one entry of the joke collection.
type Joke struct {
	Setup     string `json:"setup"`
	Punchline string `json:"punchline"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
}

var jokes = []Joke{
	{Setup: "Why do programmers prefer dark mode?", Punchline: "Because light attracts bugs!", Category: "programming"},
	{Setup: "Why did the developer go broke?", Punchline: "Because he used up all his cache!", Category: "programming"},
	{Setup: "Why do Java developers wear glasses?", Punchline: "Because they don't C#!", Category: "programming"},
	{Setup: "What's a programmer's favorite hangout place?", Punchline: "Foo Bar!", Category: "programming"},
	{Setup: "Why was the JavaScript developer sad?", Punchline: "Because he didn't Node how to Express himself!", Category: "programming"},
	{Setup: "What do you call 8 hobbits?", Punchline: "A hobbyte!", Category: "programming"},
	{Setup: "Why did the blockchain developer break up?", Punchline: "There was no connection!", Category: "web3"},
	{Setup: "Why are crypto investors always calm?", Punchline: "Because they're used to HODLing!", Category: "web3"},
	{Setup: "What did the Bitcoin say to the bank?", Punchline: "I'm going to disrupt you!", Category: "web3"},
	{Setup: "Why did the API feel lonely?", Punchline: "It had no endpoints to connect to!", Category: "programming"},
}

// RandomJoke picks a joke and stamps it with now.
func RandomJoke(now time.Time) Joke {
	j := jokes[rand.IntN(len(jokes))]
	j.Timestamp = now.UTC().Format(TimestampLayout)
	return j
}
