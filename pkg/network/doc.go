/*
Package network implements fleetgraph's data-plane transport: the
length-prefixed DataChunk wire framing, the Publisher/Subscriber
push-socket pub/sub primitives Nodes use to move data between each
other, OS port allocation, and the file-transfer tracking the
Worker's package-upload route relies on.
*/
package network
