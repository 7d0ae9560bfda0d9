// Command ollamachat chats with models served by a local Ollama server.
package main

func main() {
	Execute()
}
