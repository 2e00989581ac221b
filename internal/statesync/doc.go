// Package statesync keeps one authoritative state and many redacted client
// replicas consistent.
//
// The server side (Authority) validates proposed moves inside one critical
// section and answers every outcome with canonical state. The client side
// (Replica) predicts its own moves and is overwritten by every update.
package statesync
