// Package classify assigns a category and extracts key-value pairs from
// document text using an OpenRouter-compatible chat completion API.
package classify
