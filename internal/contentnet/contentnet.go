// Package contentnet declares the narrow interface the document-sync
// engine uses to reach the content network: publish/subscribe to pub/sub
// topics, provider announcement, and fetch-and-pin of content identified
// by CID. The engine treats the content network as an external
// collaborator; this package only describes the contract.
package contentnet

import "context"

// Message is one pub/sub delivery on a topic.
type Message struct {
	Topic string
	Data  []byte
	From  string
}

// Network is the content-addressed storage and pub/sub collaborator
// (§4.7, §6.1 publish/subscribe, provider announcement, fetch-and-pin,
// pin release).
type Network interface {
	// Publish broadcasts data on topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe delivers messages on topic to handler until ctx is done.
	Subscribe(ctx context.Context, topic string, handler func(Message)) error

	// AnnounceProvider tells the network this peer has cid available,
	// and Providers lists who else has announced it.
	AnnounceProvider(ctx context.Context, cid []byte) error
	Providers(ctx context.Context, cid []byte) ([]string, error)

	// Fetch retrieves and pins content by cid.
	Fetch(ctx context.Context, cid []byte) ([]byte, error)

	// Pin and Unpin manage local retention of content this peer serves.
	Pin(ctx context.Context, cid []byte, data []byte) error
	Unpin(ctx context.Context, cid []byte) error
}
