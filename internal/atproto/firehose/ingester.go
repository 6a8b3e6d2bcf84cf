package firehose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/events"
	"github.com/gorilla/websocket"
	"github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	car "github.com/ipld/go-car"
	mh "github.com/multiformats/go-multihash"
	cbg "github.com/whyrusleeping/cbor-gen"

	"Skyview/internal/eventlog"
	"Skyview/internal/metrics"
)

const (
	subscribePath = "/xrpc/com.atproto.sync.subscribeRepos"

	readTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	reconnectDelay = 5 * time.Second

	// statusInterval paces both the heartbeat and cursor persistence.
	statusInterval = 5 * time.Second
	// progressInterval is how many events pass between progress log lines.
	progressInterval = 1000

	leaderRetryDelay = 5 * time.Second
)

// Ingester holds the relay WebSocket subscription, decodes each frame
// and appends it to the durable event log. Only one replica ingests at
// a time; the rest stand by on the leader lock.
type Ingester struct {
	relayURL string
	eventLog eventlog.Log
	status   *eventlog.StatusStore
	leader   *eventlog.LeaderLock
	dialer   *websocket.Dialer

	connected atomic.Bool
	cursor    atomic.Int64
	eventN    atomic.Int64
	startedAt time.Time

	unknownMu    sync.Mutex
	unknownTypes map[string]bool
}

func NewIngester(relayURL string, log eventlog.Log, status *eventlog.StatusStore, leader *eventlog.LeaderLock) *Ingester {
	return &Ingester{
		relayURL:     relayURL,
		eventLog:     log,
		status:       status,
		leader:       leader,
		dialer:       websocket.DefaultDialer,
		unknownTypes: make(map[string]bool),
	}
}

// Run competes for leadership and ingests while holding it. Blocks
// until ctx is cancelled.
func (i *Ingester) Run(ctx context.Context) error {
	slog.Info("starting firehose ingester", "relay", i.relayURL, "holder", i.leader.HolderID())
	i.startedAt = time.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		acquired, err := i.leader.TryAcquire(ctx)
		if err != nil {
			slog.Warn("leader lock unavailable", "error", err)
		}
		if !acquired {
			wait(ctx, leaderRetryDelay)
			continue
		}

		slog.Info("acquired ingester leadership", "holder", i.leader.HolderID())
		i.lead(ctx)

		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := i.leader.Release(releaseCtx); err != nil {
			slog.Warn("failed to release leader lock", "error", err)
		}
		cancel()
	}
}

// lead ingests until leadership is lost or ctx is cancelled.
func (i *Ingester) lead(ctx context.Context) {
	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		i.refreshLeadership(leadCtx, cancel)
	}()
	go func() {
		defer wg.Done()
		i.publishStatus(leadCtx)
	}()

	for leadCtx.Err() == nil {
		err := i.connect(leadCtx)
		i.connected.Store(false)
		if leadCtx.Err() != nil {
			break
		}
		slog.Warn("firehose connection lost", "error", err, "retry_in", reconnectDelay)
		wait(leadCtx, reconnectDelay)
	}

	cancel()
	wg.Wait()
	i.saveFinalCursor()
}

func (i *Ingester) refreshLeadership(ctx context.Context, lost context.CancelFunc) {
	ticker := time.NewTicker(eventlog.LeaderRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := i.leader.Refresh(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("leader lock refresh failed", "error", err)
				continue
			}
			if !ok {
				slog.Warn("lost ingester leadership, stopping ingest")
				lost()
				return
			}
		}
	}
}

func (i *Ingester) publishStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Leave a parting status so dashboards see a clean stop
			// instead of a silent expiry.
			finalCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			i.writeStatus(finalCtx, false)
			cancel()
			return
		case <-ticker.C:
			i.writeStatus(ctx, i.connected.Load())
			if seq := i.cursor.Load(); seq > 0 {
				if err := i.status.SaveCursor(ctx, seq); err != nil {
					slog.Warn("failed to save cursor", "error", err)
				}
			}
		}
	}
}

func (i *Ingester) writeStatus(ctx context.Context, connected bool) {
	err := i.status.Write(ctx, eventlog.Status{
		Connected:     connected,
		URL:           i.relayURL,
		CurrentCursor: i.cursor.Load(),
	})
	if err != nil && ctx.Err() == nil {
		slog.Warn("failed to write firehose status", "error", err)
	}
}

func (i *Ingester) saveFinalCursor() {
	seq := i.cursor.Load()
	if seq == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := i.status.SaveCursor(ctx, seq); err != nil {
		slog.Warn("failed to save final cursor", "error", err)
		return
	}
	slog.Info("saved final cursor", "cursor", seq)
}

// connect dials the relay and reads frames until the connection drops
// or ctx is cancelled.
func (i *Ingester) connect(ctx context.Context) error {
	u, err := i.subscribeURL(ctx)
	if err != nil {
		return err
	}

	conn, _, err := i.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close()

	slog.Info("connected to relay", "url", u)
	i.connected.Store(true)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					closeDone()
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				// Unblocks the pending ReadMessage.
				conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return errors.New("connection closed")
		default:
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			closeDone()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if err := i.handleFrame(ctx, frame); err != nil {
			closeDone()
			return err
		}
	}
}

// subscribeURL builds the subscription URL, resuming from the saved
// cursor when one exists.
func (i *Ingester) subscribeURL(ctx context.Context) (string, error) {
	base := strings.TrimRight(i.relayURL, "/")
	if !strings.Contains(base, "/xrpc/") {
		base += subscribePath
	}

	seq := i.cursor.Load()
	saved, ok, err := i.status.LoadCursor(ctx)
	if err != nil {
		return "", fmt.Errorf("loading cursor: %w", err)
	}
	if ok && saved > seq {
		seq = saved
	}
	if seq > 0 {
		slog.Info("resuming from cursor", "cursor", seq)
		return base + "?cursor=" + strconv.FormatInt(seq, 10), nil
	}
	slog.Info("no saved cursor, starting from live position")
	return base, nil
}

// handleFrame decodes one relay frame and pushes it to the log. A
// returned error forces a reconnect; malformed payloads inside an
// otherwise valid frame are logged and skipped.
func (i *Ingester) handleFrame(ctx context.Context, frame []byte) error {
	// One CBOR reader spans the header and the body that follows it.
	r := cbg.NewCborReader(bytes.NewReader(frame))

	var header events.EventHeader
	if err := header.UnmarshalCBOR(r); err != nil {
		return fmt.Errorf("decoding frame header: %w", err)
	}

	switch header.Op {
	case events.EvtKindErrorFrame:
		var ef events.ErrorFrame
		if err := ef.UnmarshalCBOR(r); err != nil {
			return fmt.Errorf("decoding error frame: %w", err)
		}
		return fmt.Errorf("relay error: %s: %s", ef.Error, ef.Message)
	case events.EvtKindMessage:
	default:
		return nil
	}

	switch header.MsgType {
	case "#commit":
		var evt comatproto.SyncSubscribeRepos_Commit
		if err := evt.UnmarshalCBOR(r); err != nil {
			slog.Warn("malformed commit frame", "error", err)
			return nil
		}
		return i.pushCommit(ctx, &evt)
	case "#identity":
		var evt comatproto.SyncSubscribeRepos_Identity
		if err := evt.UnmarshalCBOR(r); err != nil {
			slog.Warn("malformed identity frame", "error", err)
			return nil
		}
		handle := ""
		if evt.Handle != nil {
			handle = *evt.Handle
		}
		return i.push(ctx, &Event{
			Kind:     eventlog.KindIdentity,
			Seq:      evt.Seq,
			Did:      evt.Did,
			Time:     evt.Time,
			Identity: &IdentityEvent{Did: evt.Did, Handle: handle},
		})
	case "#account":
		var evt comatproto.SyncSubscribeRepos_Account
		if err := evt.UnmarshalCBOR(r); err != nil {
			slog.Warn("malformed account frame", "error", err)
			return nil
		}
		status := ""
		if evt.Status != nil {
			status = *evt.Status
		}
		return i.push(ctx, &Event{
			Kind:    eventlog.KindAccount,
			Seq:     evt.Seq,
			Did:     evt.Did,
			Time:    evt.Time,
			Account: &AccountEvent{Did: evt.Did, Active: evt.Active, Status: status},
		})
	default:
		i.noteUnknownType(header.MsgType)
		return nil
	}
}

func (i *Ingester) pushCommit(ctx context.Context, evt *comatproto.SyncSubscribeRepos_Commit) error {
	blocks := decodeBlocks(evt.Blocks)

	ops := make([]CommitOp, 0, len(evt.Ops))
	for _, op := range evt.Ops {
		if op == nil {
			continue
		}
		out := CommitOp{Action: op.Action, Path: op.Path}
		if op.Cid != nil {
			out.CID = cid.Cid(*op.Cid).String()
			if raw, found := blocks[out.CID]; found && (op.Action == "create" || op.Action == "update") {
				rec, err := decodeRecord(raw)
				if err != nil {
					slog.Warn("undecodable record block", "path", op.Path, "cid", out.CID, "error", err)
				} else {
					out.Record = rec
				}
			}
		}
		ops = append(ops, out)
	}

	return i.push(ctx, &Event{
		Kind:   eventlog.KindCommit,
		Seq:    evt.Seq,
		Did:    evt.Repo,
		Time:   evt.Time,
		Commit: &CommitData{Rev: evt.Rev, Ops: ops},
	})
}

// push appends the event to the durable log. Push blocks while the log
// is saturated, which is exactly the back-pressure we want: stop
// reading the socket rather than drop events.
func (i *Ingester) push(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := i.eventLog.Push(ctx, event.Kind, event.Seq, payload); err != nil {
		return fmt.Errorf("pushing event seq %d: %w", event.Seq, err)
	}

	i.cursor.Store(event.Seq)
	metrics.FirehoseCursor.WithLabelValues("ingested").Set(float64(event.Seq))

	if n := i.eventN.Add(1); n%progressInterval == 0 {
		elapsed := time.Since(i.startedAt).Seconds()
		var rate float64
		if elapsed > 0 {
			rate = float64(n) / elapsed
		}
		slog.Info("firehose progress",
			"events", n,
			"events_per_sec", int(rate),
			"cursor", event.Seq)
	}
	return nil
}

// decodeBlocks reads the commit's CAR slice into a cid-to-bytes map.
// Failures degrade to an empty map; the ops are still pushed and the
// repair worker fetches what the frame could not deliver.
func decodeBlocks(raw []byte) map[string][]byte {
	if len(raw) == 0 {
		return nil
	}
	cr, err := car.NewCarReader(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("unreadable commit CAR slice", "error", err)
		return nil
	}

	blocks := make(map[string][]byte)
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("truncated commit CAR slice", "error", err)
			break
		}
		blocks[blk.Cid().String()] = blk.RawData()
	}
	return blocks
}

// decodeRecord renders an IPLD-CBOR record block as DAG-JSON.
func decodeRecord(raw []byte) (json.RawMessage, error) {
	node, err := ipldcbor.Decode(raw, mh.SHA2_256, -1)
	if err != nil {
		return nil, err
	}
	return node.MarshalJSON()
}

func (i *Ingester) noteUnknownType(msgType string) {
	i.unknownMu.Lock()
	defer i.unknownMu.Unlock()
	if i.unknownTypes[msgType] {
		return
	}
	i.unknownTypes[msgType] = true
	slog.Info("ignoring unhandled frame type", "type", msgType)
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
