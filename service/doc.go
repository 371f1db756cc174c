// Package service holds the command handlers of the matching engine and the
// startup recovery protocol.
//
// Engine is the only code that mutates engine state. It runs on the pipeline
// writer; nothing in here locks.
package service
