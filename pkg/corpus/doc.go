// Package corpus turns raw text files into the flat token sequences consumed
// by package markov. It owns every text-level policy: word or character units,
// case folding, hyphen and punctuation handling, Project Gutenberg
// header/footer removal, and joining generated tokens back into text.
package corpus
