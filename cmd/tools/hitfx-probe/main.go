package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/eventbus"
	"github.com/annel0/mmo-hitfx/internal/network"
	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/replication"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

const (
	defaultServerAddr = "127.0.0.1:7777"
	defaultNATSURL    = "nats://127.0.0.1:4222"
	defaultCatalog    = "configs/actions.yaml"
)

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "KCP server address")
		command    = flag.String("cmd", "listen", "Command: listen, fire, events")
		peer       = flag.Uint("peer", 1, "Peer ID to announce")
		catalog    = flag.String("catalog", defaultCatalog, "Action catalog shared with the server")
		action     = flag.String("action", "", "Action ID for fire")
		owner      = flag.Uint64("owner", 0, "Owner entity ID for fire")
		origin     = flag.String("origin", "", "Origin x,y,z (empty: owner position)")
		direction  = flag.String("dir", "0,0,1", "Direction x,y,z")
		wait       = flag.Duration("wait", 3*time.Second, "How long to print effects (0: until Ctrl+C)")
		natsURL    = flag.String("nats", defaultNATSURL, "NATS URL for events")
		stream     = flag.String("stream", "HITFX", "JetStream stream for events")
		types      = flag.String("types", "", "Event types filter (comma-separated)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *wait)
		defer cancel()
	}

	var err error
	switch *command {
	case "listen":
		err = listen(ctx, *serverAddr, protocol.PeerID(*peer), *catalog, nil)
	case "fire":
		req, perr := buildRequest(*action, *owner, *origin, *direction)
		if perr != nil {
			log.Fatalf("❌ %v", perr)
		}
		err = listen(ctx, *serverAddr, protocol.PeerID(*peer), *catalog, req)
	case "events":
		err = tailEvents(ctx, *natsURL, *stream, parseStringList(*types))
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: listen, fire, events")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

// listen подключается как пир и воспроизводит эффекты через клиентский репликатор.
// req != nil предсказывается локально и отправляется на сервер.
func listen(ctx context.Context, addr string, peer protocol.PeerID, catalogPath string, req *protocol.ActionRequest) error {
	catalog, err := effects.LoadCatalog(catalogPath)
	if err != nil {
		return err
	}
	p := newPeer(peer, catalog, os.Stdout)
	defer p.close()

	codec, err := protocol.NewCodec(0)
	if err != nil {
		return err
	}
	defer codec.Close()

	client, err := network.DialKCP(ctx, addr, peer, codec, p.handle)
	if err != nil {
		return err
	}
	defer client.Close()
	fmt.Printf("🔌 Connected to %s as peer %d\n", addr, peer)

	if req != nil {
		if err := p.anticipate(req); err != nil {
			return err
		}
		if err := client.SendAction(req); err != nil {
			return fmt.Errorf("send action: %w", err)
		}
		fmt.Printf("🎯 Sent %s\n", req)
	}

	<-ctx.Done()
	fmt.Printf("📊 Markers: %d active, pool %+v\n", p.rep.ActiveMarkers(), p.pool.Stats())
	return nil
}

// probePeer клиентская сторона: репликатор без транспорта и свой пул маркеров
type probePeer struct {
	rep  *replication.Replicator
	pool *effects.Pool
	out  io.Writer
}

func newPeer(peer protocol.PeerID, catalog *effects.Catalog, out io.Writer) *probePeer {
	pool := effects.NewPool(4, effects.NopRenderer{}, nil)
	rep := replication.New(replication.Config{LocalPeer: peer, MarkerLifetime: 2 * time.Second},
		catalog, printPlayer{out: out}, pool, nil, nil)
	return &probePeer{rep: rep, pool: pool, out: out}
}

// anticipate локальное предсказание до ответа сервера
func (p *probePeer) anticipate(req *protocol.ActionRequest) error {
	if err := p.rep.AnticipateOnSelf(req.Action, req.Origin, vec.Up); err != nil {
		return fmt.Errorf("anticipate: %w", err)
	}
	return nil
}

func (p *probePeer) handle(m *protocol.HitEffectMessage) {
	fmt.Fprintf(p.out, "[%s] %s point=%v normal=%v corr=%s\n",
		time.Now().Format("15:04:05.000"), m, m.Point, m.Normal, m.CorrelationID)
	if err := p.rep.HandleMessage(m); err != nil {
		fmt.Fprintf(p.out, "❌ %v\n", err)
	}
}

func (p *probePeer) close() {
	p.rep.ReleaseMarkers()
}

// printPlayer печатает запуски эффектов вместо отрисовки
type printPlayer struct {
	out io.Writer
}

func (p printPlayer) Trigger(desc effects.EffectDescriptor, moment effects.Moment, point, _ vec.Vec3) {
	fmt.Fprintf(p.out, "  ✨ %-6s %s(%s) at %.2f,%.2f,%.2f\n", moment, desc.Name, desc.Kind, point[0], point[1], point[2])
}

// tailEvents выводит события шины в реальном времени
func tailEvents(ctx context.Context, url, stream string, types []string) error {
	bus, err := eventbus.NewJetStreamBus(url, stream, 0)
	if err != nil {
		return err
	}
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: types}, func(_ context.Context, ev *eventbus.Envelope) {
		fmt.Printf("[%s] %-16s %-12s %s\n", ev.Timestamp.Format(time.RFC3339), ev.EventType, ev.Source, ev.Payload)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 Tailing %s on %s\n", stream, url)
	<-ctx.Done()
	return nil
}

func buildRequest(action string, owner uint64, origin, direction string) (*protocol.ActionRequest, error) {
	if action == "" || owner == 0 {
		return nil, fmt.Errorf("fire needs -action and -owner")
	}
	req := &protocol.ActionRequest{Action: effects.ActionID(action), Owner: targeting.EntityID(owner)}

	var err error
	if origin != "" {
		if req.Origin, err = parseVec(origin); err != nil {
			return nil, fmt.Errorf("origin: %w", err)
		}
	}
	if req.Direction, err = parseVec(direction); err != nil {
		return nil, fmt.Errorf("dir: %w", err)
	}
	return req, nil
}

func parseVec(s string) (vec.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return vec.Zero, fmt.Errorf("expected x,y,z, got %q", s)
	}
	var v vec.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return vec.Zero, err
		}
		v[i] = f
	}
	return v, nil
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
