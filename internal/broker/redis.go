package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes a claim only if this instance still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisDirectory shares identity claims between broker instances. Each
// claim records the owning instance; signals for an identity held elsewhere
// are published on that instance's channel.
type RedisDirectory struct {
	rdb      *redis.Client
	prefix   string
	instance string
	sub      *redis.PubSub
	inbound  chan *signaling.Message
	log      zerolog.Logger
}

// NewRedisDirectory subscribes to this instance's channel. Prefix is
// optional (e.g., "meshcall").
func NewRedisDirectory(ctx context.Context, rdb *redis.Client, prefix string, log zerolog.Logger) (*RedisDirectory, error) {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "meshcall"
	}

	d := &RedisDirectory{
		rdb:      rdb,
		prefix:   p,
		instance: uuid.NewString(),
		inbound:  make(chan *signaling.Message, 64),
		log:      log,
	}

	d.sub = rdb.Subscribe(ctx, d.channel(d.instance))
	if _, err := d.sub.Receive(ctx); err != nil {
		d.sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", d.channel(d.instance), err)
	}

	go d.listen()
	return d, nil
}

func (d *RedisDirectory) key(id string) string {
	return fmt.Sprintf("%s:id:%s", d.prefix, id)
}

func (d *RedisDirectory) channel(instance string) string {
	return fmt.Sprintf("%s:instance:%s", d.prefix, instance)
}

func (d *RedisDirectory) Claim(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, d.key(id), d.instance, 0).Result()
}

func (d *RedisDirectory) Release(ctx context.Context, id string) error {
	return releaseScript.Run(ctx, d.rdb, []string{d.key(id)}, d.instance).Err()
}

func (d *RedisDirectory) Forward(ctx context.Context, msg *signaling.Message) (bool, error) {
	owner, err := d.rdb.Get(ctx, d.key(msg.To)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if owner == d.instance {
		// Claimed by us but no longer connected here.
		return false, nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	receivers, err := d.rdb.Publish(ctx, d.channel(owner), data).Result()
	if err != nil {
		return false, err
	}
	return receivers > 0, nil
}

func (d *RedisDirectory) Inbound() <-chan *signaling.Message {
	return d.inbound
}

func (d *RedisDirectory) listen() {
	defer close(d.inbound)

	for m := range d.sub.Channel() {
		var msg signaling.Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			d.log.Warn().Err(err).Msg("dropping malformed forwarded message")
			continue
		}
		d.inbound <- &msg
	}
}

func (d *RedisDirectory) Close() error {
	return d.sub.Close()
}
