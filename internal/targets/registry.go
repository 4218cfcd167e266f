package targets

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"beatrelay/internal/microservices/tcp"
	udp "beatrelay/internal/microservices/udp-server"

	"github.com/BurntSushi/toml"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Kind names a target implementation in the registry file
type Kind string

const (
	KindLog    Kind = "log"
	KindRedis  Kind = "redis"
	KindNotify Kind = "notify"
	KindUDP    Kind = "udp"
)

var (
	ErrUnknownKind   = errors.New("unknown target kind")
	ErrDuplicateKey  = errors.New("duplicate routing key")
	ErrInvalidKey    = errors.New("invalid routing key")
	ErrMissingClient = errors.New("target backend is not configured")
)

// Deps are the shared clients targets are built on. Nil clients disable their kinds.
type Deps struct {
	Redis  *redis.Client
	Pool   *pgxpool.Pool
	UDP    *udp.Server
	Logger *slog.Logger
}

// Character is one [[character]] entry of the registry file
type Character struct {
	Key     string `toml:"key"`
	Kind    Kind   `toml:"kind"`
	Channel string `toml:"channel"`
}

type registryFile struct {
	Characters []Character `toml:"character"`
}

// LoadRegistryFile reads a TOML registry file and builds the targets it lists
func LoadRegistryFile(path string, deps Deps) (*tcp.Registry, error) {
	var raw registryFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load registry file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load registry file: unknown fields %v", undecoded)
	}
	return BuildRegistry(raw.Characters, deps)
}

// DecodeRegistry is LoadRegistryFile for in-memory TOML
func DecodeRegistry(data string, deps Deps) (*tcp.Registry, error) {
	var raw registryFile
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode registry: unknown fields %v", undecoded)
	}
	return BuildRegistry(raw.Characters, deps)
}

// BuildRegistry turns character entries into a registry; a missing kind means log
func BuildRegistry(characters []Character, deps Deps) (*tcp.Registry, error) {
	built := make(map[string]tcp.Target, len(characters))
	for i, ch := range characters {
		if err := validateKey(ch.Key); err != nil {
			return nil, fmt.Errorf("character %d: %w", i, err)
		}
		if _, exists := built[ch.Key]; exists {
			return nil, fmt.Errorf("character %q: %w", ch.Key, ErrDuplicateKey)
		}
		target, err := newTarget(ch, deps)
		if err != nil {
			return nil, fmt.Errorf("character %q: %w", ch.Key, err)
		}
		built[ch.Key] = target
	}
	return tcp.NewRegistry(built)
}

// LogRegistry registers a LogTarget for each key
func LogRegistry(keys []string, logger *slog.Logger) (*tcp.Registry, error) {
	characters := make([]Character, 0, len(keys))
	for _, key := range keys {
		characters = append(characters, Character{Key: key, Kind: KindLog})
	}
	return BuildRegistry(characters, Deps{Logger: logger})
}

func newTarget(ch Character, deps Deps) (tcp.Target, error) {
	switch ch.Kind {
	case KindLog, "":
		return NewLogTarget(ch.Key, deps.Logger), nil
	case KindRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: redis (set REDIS_URL)", ErrMissingClient)
		}
		return NewRedisTarget(deps.Redis, ch.Key, ch.Channel), nil
	case KindNotify:
		if deps.Pool == nil {
			return nil, fmt.Errorf("%w: postgres (set DATABASE_URL)", ErrMissingClient)
		}
		return NewNotifyTarget(deps.Pool, ch.Key, ch.Channel), nil
	case KindUDP:
		if deps.UDP == nil {
			return nil, fmt.Errorf("%w: udp fan-out (set UDP_ENABLED)", ErrMissingClient)
		}
		return NewUDPTarget(deps.UDP, ch.Key), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, ch.Kind)
	}
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	// the wire splits on the first delimiter, so such a key could never match
	if strings.Contains(key, tcp.Delimiter) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, tcp.Delimiter)
	}
	return nil
}
