//go:build linux

package sensor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus/v5"
)

// Default bus coordinates for a sensor-proxy style step counter
// service.
const (
	DefaultBusName    = "org.freedesktop.StepCounter"
	DefaultObjectPath = "/org/freedesktop/StepCounter"
	DefaultInterface  = "org.freedesktop.StepCounter"
	DefaultProperty   = "Steps"

	propertiesInterface = "org.freedesktop.DBus.Properties"
	claimMethod         = DefaultInterface + ".ClaimStepCounter"
	releaseMethod       = DefaultInterface + ".ReleaseStepCounter"
)

// DBusConfig locates the step counter service on the system bus.
type DBusConfig struct {
	BusName    string
	ObjectPath string
	Interface  string
	Property   string
}

// DefaultDBusConfig returns the standard bus coordinates.
func DefaultDBusConfig() DBusConfig {
	return DBusConfig{
		BusName:    DefaultBusName,
		ObjectPath: DefaultObjectPath,
		Interface:  DefaultInterface,
		Property:   DefaultProperty,
	}
}

func (c DBusConfig) withDefaults() DBusConfig {
	def := DefaultDBusConfig()
	if c.BusName == "" {
		c.BusName = def.BusName
	}
	if c.ObjectPath == "" {
		c.ObjectPath = def.ObjectPath
	}
	if c.Interface == "" {
		c.Interface = def.Interface
	}
	if c.Property == "" {
		c.Property = def.Property
	}
	return c
}

// DBusSource subscribes to a step counter exported on the system bus.
//
// After claiming the counter it reads the current property value and
// emits it as the first delivery; that delivery is the stale flush
// marker the manager discards. Subsequent PropertiesChanged signals
// become readings timestamped at arrival.
type DBusSource struct {
	cfg DBusConfig
	log *slog.Logger

	mu         sync.Mutex
	conn       *dbus.Conn
	signals    chan *dbus.Signal
	out        chan Reading
	subscribed bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewDBusSource creates a source for the given bus coordinates.
// Zero-value fields fall back to the defaults.
func NewDBusSource(cfg DBusConfig, log *slog.Logger) *DBusSource {
	if log == nil {
		log = slog.Default()
	}
	return &DBusSource{cfg: cfg.withDefaults(), log: log}
}

// Available reports whether the step counter service owns its bus name.
func (s *DBusSource) Available() bool {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false
	}

	var owned bool
	err = conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, s.cfg.BusName).Store(&owned)
	return err == nil && owned
}

// Subscribe claims the counter and starts delivery.
func (s *DBusSource) Subscribe() (<-chan Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribed {
		return s.out, nil
	}

	conn, err := s.connect()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	obj := conn.Object(s.cfg.BusName, dbus.ObjectPath(s.cfg.ObjectPath))
	if call := obj.Call(claimMethod, 0); call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("claim step counter: %w", call.Err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(s.cfg.ObjectPath)),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("add signal match: %w", err)
	}

	s.conn = conn
	s.signals = make(chan *dbus.Signal, 64)
	s.out = make(chan Reading, 256)
	s.done = make(chan struct{})
	s.subscribed = true
	conn.Signal(s.signals)

	// Seed the pipeline with the current counter value. This is the
	// flush-marker delivery.
	if value, err := s.readProperty(obj); err == nil {
		s.out <- Reading{Value: value, Timestamp: time.Now().UnixMilli()}
	} else {
		s.log.Warn("initial counter read failed", "error", err)
		s.out <- Reading{Value: 0, Timestamp: time.Now().UnixMilli()}
	}

	s.wg.Add(1)
	go s.pump()

	return s.out, nil
}

// Unsubscribe releases the counter and closes the reading channel.
func (s *DBusSource) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.subscribed {
		return nil
	}
	s.subscribed = false
	close(s.done)

	obj := s.conn.Object(s.cfg.BusName, dbus.ObjectPath(s.cfg.ObjectPath))
	if call := obj.Call(releaseMethod, 0); call.Err != nil {
		s.log.Warn("release step counter failed", "error", call.Err)
	}

	s.conn.RemoveSignal(s.signals)
	err := s.conn.Close()
	s.conn = nil

	s.wg.Wait()
	close(s.out)
	return err
}

// connect dials the system bus, retrying transient failures briefly so
// a daemon starting before the bus does not give up immediately.
func (s *DBusSource) connect() (*dbus.Conn, error) {
	var conn *dbus.Conn

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	err := backoff.Retry(func() error {
		var err error
		conn, err = dbus.SystemBusPrivate()
		if err != nil {
			return err
		}
		if err = conn.Auth(nil); err != nil {
			conn.Close()
			return err
		}
		if err = conn.Hello(); err != nil {
			conn.Close()
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return conn, nil
}

// pump translates bus signals into readings until Unsubscribe.
func (s *DBusSource) pump() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			value, ok := s.stepsFromSignal(sig)
			if !ok {
				continue
			}
			select {
			case s.out <- Reading{Value: value, Timestamp: time.Now().UnixMilli()}:
			default:
				s.log.Warn("reading buffer full, delivery dropped", "value", value)
			}
		}
	}
}

// stepsFromSignal extracts the counter value from a PropertiesChanged
// signal for our interface.
func (s *DBusSource) stepsFromSignal(sig *dbus.Signal) (int64, bool) {
	if sig.Name != propertiesInterface+".PropertiesChanged" || len(sig.Body) < 2 {
		return 0, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != s.cfg.Interface {
		return 0, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return 0, false
	}
	variant, ok := changed[s.cfg.Property]
	if !ok {
		return 0, false
	}
	return toInt64(variant.Value())
}

// readProperty fetches the current counter value.
func (s *DBusSource) readProperty(obj dbus.BusObject) (int64, error) {
	variant, err := obj.GetProperty(s.cfg.Interface + "." + s.cfg.Property)
	if err != nil {
		return 0, err
	}
	value, ok := toInt64(variant.Value())
	if !ok {
		return 0, fmt.Errorf("unexpected property type %T", variant.Value())
	}
	return value, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}
