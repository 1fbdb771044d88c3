// Package events implements the cross-process broadcast used by the
// Operation Scheduler (spec.md §4.11) for "installations-changed" and
// "comfy-exited" notifications. When no NATS URL is configured it falls
// back to an in-process bus, so a single-daemon deployment pays no
// broker dependency.
package events

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
)

const (
	SubjectInstallationsChanged = "payload-launcher.installations-changed"
	SubjectComfyExited          = "payload-launcher.comfy-exited"
)

// InstallationsChanged is broadcast whenever the registry or an
// installation's derived status changes in a way the UI should refresh
// for.
type InstallationsChanged struct {
	InstallationID string `json:"installationId,omitempty"`
	Reason         string `json:"reason"`
}

// ComfyExited is broadcast when a launched payload process exits.
type ComfyExited struct {
	InstallationID string `json:"installationId"`
	Crashed        bool   `json:"crashed"`
	ExitMessage    string `json:"exitMessage,omitempty"`
}

// Bus is the narrow publish/subscribe surface the Scheduler needs.
type Bus interface {
	PublishInstallationsChanged(InstallationsChanged)
	PublishComfyExited(ComfyExited)
	OnInstallationsChanged(func(InstallationsChanged)) (unsubscribe func())
	OnComfyExited(func(ComfyExited)) (unsubscribe func())
	Close()
}

// localBus is the in-process fallback: a plain fan-out over registered
// callbacks, guarded by a mutex, matching the single-writer-goroutine
// discipline used for the progress sink.
type localBus struct {
	mu              sync.Mutex
	changedHandlers map[int]func(InstallationsChanged)
	exitedHandlers  map[int]func(ComfyExited)
	nextID          int
}

// NewLocalBus returns an in-process Bus with no external dependency.
func NewLocalBus() Bus {
	return &localBus{
		changedHandlers: map[int]func(InstallationsChanged){},
		exitedHandlers:  map[int]func(ComfyExited){},
	}
}

func (b *localBus) PublishInstallationsChanged(evt InstallationsChanged) {
	b.mu.Lock()
	handlers := make([]func(InstallationsChanged), 0, len(b.changedHandlers))
	for _, h := range b.changedHandlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (b *localBus) PublishComfyExited(evt ComfyExited) {
	b.mu.Lock()
	handlers := make([]func(ComfyExited), 0, len(b.exitedHandlers))
	for _, h := range b.exitedHandlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (b *localBus) OnInstallationsChanged(fn func(InstallationsChanged)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.changedHandlers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.changedHandlers, id)
		b.mu.Unlock()
	}
}

func (b *localBus) OnComfyExited(fn func(ComfyExited)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.exitedHandlers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.exitedHandlers, id)
		b.mu.Unlock()
	}
}

func (b *localBus) Close() {}

// natsBus broadcasts over a NATS connection, for deployments running
// more than one launcherd process (e.g. a headless daemon plus a
// separate control surface process) that need to observe each other's
// installation changes.
type natsBus struct {
	conn  *nats.Conn
	local Bus // also fan out locally so same-process subscribers work
}

// NewNATSBus connects to url and returns a Bus that publishes to NATS
// and also fans out to in-process subscribers.
func NewNATSBus(url string) (Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("payload-launcher"),
		nats.ReconnectWait(2_000_000_000),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	b := &natsBus{conn: conn, local: NewLocalBus()}

	conn.Subscribe(SubjectInstallationsChanged, func(msg *nats.Msg) {
		var evt InstallationsChanged
		if json.Unmarshal(msg.Data, &evt) == nil {
			b.local.PublishInstallationsChanged(evt)
		}
	})
	conn.Subscribe(SubjectComfyExited, func(msg *nats.Msg) {
		var evt ComfyExited
		if json.Unmarshal(msg.Data, &evt) == nil {
			b.local.PublishComfyExited(evt)
		}
	})

	return b, nil
}

func (b *natsBus) PublishInstallationsChanged(evt InstallationsChanged) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.conn.Publish(SubjectInstallationsChanged, data)
}

func (b *natsBus) PublishComfyExited(evt ComfyExited) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.conn.Publish(SubjectComfyExited, data)
}

func (b *natsBus) OnInstallationsChanged(fn func(InstallationsChanged)) func() {
	return b.local.OnInstallationsChanged(fn)
}

func (b *natsBus) OnComfyExited(fn func(ComfyExited)) func() {
	return b.local.OnComfyExited(fn)
}

func (b *natsBus) Close() {
	b.local.Close()
	b.conn.Close()
}
