// Package tagger assigns heuristic tags to images from their file name and
// decoded header: keyword matches, aspect and resolution classes, color mode
// and a marker for generated artwork.
package tagger
