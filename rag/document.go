package rag

import (
	"crypto/sha256"
	"encoding/hex"
)

// Document is one retrievable passage. ID is the hex SHA-256 of Content.
type Document struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// NewDocument returns a document whose ID is derived from its content.
func NewDocument(content string) Document {
	sum := sha256.Sum256([]byte(content))
	return Document{ID: hex.EncodeToString(sum[:]), Content: content}
}

// Corpus is an ordered list of documents.
type Corpus []Document

// SeedCorpus returns the five documents every query runs against.
func SeedCorpus() Corpus {
	return Corpus{
		NewDocument("My name is Jean and I live in Paris."),
		NewDocument("My name is Mark and I live in Berlin."),
		NewDocument("My name is Giorgio and I live in Rome."),
		NewDocument("My name is Ana and I live in Lisbon."),
		NewDocument("My name is Sofia and I live in Madrid."),
	}
}
