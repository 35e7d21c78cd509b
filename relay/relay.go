// Package relay implements the presence-and-messaging relay: it accepts
// persistent WebSocket connections, tracks which user is attached to which
// connection via the shared session store, and fans chat, notification and
// presence events out across the fleet through the pub/sub fabric.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/broker"
	"github.com/rili-live/therr-app-sub008/config"
	"github.com/rili-live/therr-app-sub008/metrics"
	"github.com/rili-live/therr-app-sub008/rest"
	"github.com/rili-live/therr-app-sub008/session"
)

// Fabric channel scheme. Room channels are subscribed ref-counted by local
// membership; the direct and global channels stay subscribed for the life
// of the instance.
const (
	directChannel     = "relay:direct"
	globalChannel     = "relay:global"
	roomChannelPrefix = "relay:room:"
)

func roomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// Relay holds everything one instance needs: the session store and fabric
// adapters, the local connection registry, the auth gate and the REST
// collaborator client. Constructed once at process start and threaded into
// every handler; no module-level state.
type Relay struct {
	appName    string
	instanceID string

	cfg      *config.AppConfig
	store    session.Store
	fabric   broker.MessageBroker
	upstream *rest.Client
	registry *Registry
	auth     *Authenticator
	log      *zap.Logger

	sessionTTL time.Duration

	clientsMu sync.Mutex
	clients   map[string]*Client

	roomsMu sync.Mutex
	wg      sync.WaitGroup
}

type Options struct {
	InstanceID string
	Config     *config.AppConfig
	Store      session.Store
	Fabric     broker.MessageBroker
	Upstream   *rest.Client
	Logger     *zap.Logger
}

func New(opts Options) *Relay {
	return &Relay{
		appName:    opts.Config.App.Name,
		instanceID: opts.InstanceID,
		cfg:        opts.Config,
		store:      opts.Store,
		fabric:     opts.Fabric,
		upstream:   opts.Upstream,
		registry:   NewRegistry(),
		auth:       NewAuthenticator(opts.Config.Auth.JWTSecret),
		log:        opts.Logger.Named("relay"),
		sessionTTL: time.Duration(opts.Config.Session.TTL) * time.Second,
		clients:    make(map[string]*Client),
	}
}

// Registry exposes the instance-local room bookkeeping.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Start subscribes the always-on fabric channels and spawns the delivery
// loops. Returns once the subscriptions are live; delivery continues until
// ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	directEvents, err := r.fabric.Subscribe(ctx, directChannel)
	if err != nil {
		return err
	}
	globalEvents, err := r.fabric.Subscribe(ctx, globalChannel)
	if err != nil {
		return err
	}

	go r.consume(ctx, directEvents)
	go r.consume(ctx, globalEvents)
	return nil
}

// consume delivers fabric events to local connections until the feed
// closes.
func (r *Relay) consume(ctx context.Context, events <-chan broker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.deliver(event)
		}
	}
}

// deliver routes one fabric event to the matching local connections.
// Events published by this instance come back through the fabric too; the
// exclude field keeps the originating connection from hearing its own
// broadcast (self-directed copies are emitted directly by handlers).
func (r *Relay) deliver(event broker.Event) {
	switch {
	case event.Target != "":
		if c, ok := r.client(event.Target); ok {
			c.EmitRaw(event.Envelope)
			metrics.FabricEventsDelivered.Inc()
		}
	case event.RoomID != "":
		for _, connectionID := range r.registry.Members(event.RoomID) {
			if connectionID == event.Exclude {
				continue
			}
			if c, ok := r.client(connectionID); ok {
				c.EmitRaw(event.Envelope)
				metrics.FabricEventsDelivered.Inc()
			}
		}
	default:
		r.clientsMu.Lock()
		targets := make([]*Client, 0, len(r.clients))
		for _, c := range r.clients {
			if c.ID != event.Exclude {
				targets = append(targets, c)
			}
		}
		r.clientsMu.Unlock()
		for _, c := range targets {
			c.EmitRaw(event.Envelope)
			metrics.FabricEventsDelivered.Inc()
		}
	}
}

// roomsDirectory snapshots the local rooms, marking each member active
// only while its connection is registered and not yet torn down.
func (r *Relay) roomsDirectory() []RoomSummary {
	return r.registry.ListRooms(func(connectionID string) bool {
		c, ok := r.client(connectionID)
		return ok && c.ctx.Err() == nil
	})
}

func (r *Relay) client(connectionID string) (*Client, bool) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	c, ok := r.clients[connectionID]
	return c, ok
}

func (r *Relay) addClient(c *Client) {
	r.clientsMu.Lock()
	r.clients[c.ID] = c
	r.clientsMu.Unlock()
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
}

func (r *Relay) removeClient(c *Client) {
	r.clientsMu.Lock()
	delete(r.clients, c.ID)
	r.clientsMu.Unlock()
	metrics.ActiveConnections.Dec()
}

// publishToConnection addresses an event to a specific connection id,
// wherever in the fleet it lives.
func (r *Relay) publishToConnection(ctx context.Context, targetConnectionID string, t ActionType, data interface{}) {
	raw, err := encodeEnvelope(t, data)
	if err != nil {
		r.log.Error("failed to encode fabric envelope", zap.String("type", string(t)), zap.Error(err))
		return
	}
	event := broker.Event{
		Key:      uuid.New().String(),
		Origin:   r.instanceID,
		Target:   targetConnectionID,
		Envelope: raw,
	}
	if err := r.fabric.Publish(ctx, directChannel, event); err != nil {
		r.log.Error("fabric publish failed",
			zap.String("channel", directChannel),
			zap.String("type", string(t)),
			zap.Error(err))
		return
	}
	metrics.FabricEventsPublished.WithLabelValues(r.fabric.Type()).Inc()
}

// publishToRoom broadcasts an event to every member of a room across the
// fleet, excluding one connection (usually the sender, who gets a direct
// echo instead).
func (r *Relay) publishToRoom(ctx context.Context, roomID, excludeConnectionID string, t ActionType, data interface{}) {
	raw, err := encodeEnvelope(t, data)
	if err != nil {
		r.log.Error("failed to encode fabric envelope", zap.String("type", string(t)), zap.Error(err))
		return
	}
	event := broker.Event{
		Key:      uuid.New().String(),
		Origin:   r.instanceID,
		RoomID:   roomID,
		Exclude:  excludeConnectionID,
		Envelope: raw,
	}
	if err := r.fabric.Publish(ctx, roomChannel(roomID), event); err != nil {
		r.log.Error("fabric publish failed",
			zap.String("channel", roomChannel(roomID)),
			zap.String("type", string(t)),
			zap.Error(err))
		return
	}
	metrics.FabricEventsPublished.WithLabelValues(r.fabric.Type()).Inc()
}

// publishGlobal broadcasts to every connected socket in the fleet. Used for
// the public rooms directory.
func (r *Relay) publishGlobal(ctx context.Context, excludeConnectionID string, t ActionType, data interface{}) {
	raw, err := encodeEnvelope(t, data)
	if err != nil {
		r.log.Error("failed to encode fabric envelope", zap.String("type", string(t)), zap.Error(err))
		return
	}
	event := broker.Event{
		Key:      uuid.New().String(),
		Origin:   r.instanceID,
		Exclude:  excludeConnectionID,
		Envelope: raw,
	}
	if err := r.fabric.Publish(ctx, globalChannel, event); err != nil {
		r.log.Error("fabric publish failed",
			zap.String("channel", globalChannel),
			zap.String("type", string(t)),
			zap.Error(err))
		return
	}
	metrics.FabricEventsPublished.WithLabelValues(r.fabric.Type()).Inc()
}

// joinRoomSubscription ref-counts the room's fabric channel: subscribe on
// first local member, serialized so a racing join/leave pair cannot leave
// the subscription in the wrong state.
func (r *Relay) joinRoomSubscription(ctx context.Context, c *Client, roomID string) {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()

	if first := r.registry.Join(c.ID, roomID); first {
		events, err := r.fabric.Subscribe(ctx, roomChannel(roomID))
		if err != nil {
			r.log.Error("room subscribe failed", zap.String("roomId", roomID), zap.Error(err))
			return
		}
		// The room outlives any one member; the consume loop ends when
		// Unsubscribe closes the feed.
		go r.consume(context.Background(), events)
		metrics.LocalRooms.Inc()
	}
}

// leaveRoomSubscription drops the room's fabric channel when its last
// local member leaves.
func (r *Relay) leaveRoomSubscription(ctx context.Context, connectionID, roomID string) {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()

	if last := r.registry.Leave(connectionID, roomID); last {
		if err := r.fabric.Unsubscribe(ctx, roomChannel(roomID)); err != nil {
			r.log.Error("room unsubscribe failed", zap.String("roomId", roomID), zap.Error(err))
		}
		metrics.LocalRooms.Dec()
	}
}

// CloseAllConnections is the shutdown path: close every local socket.
func (r *Relay) CloseAllConnections(reason string) {
	r.clientsMu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clientsMu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, reason)
	}
	r.wg.Wait()
}

// creds builds the upstream credentials forwarded on every REST call.
func (r *Relay) creds(c *Client) rest.Credentials {
	return rest.Credentials{Token: c.token, Locale: c.locale}
}
