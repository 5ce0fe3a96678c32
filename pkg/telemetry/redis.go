package telemetry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKey = "telemetry:bess"

// Redis shares the latest reading across processes in one hash.
type Redis struct {
	client   redis.UniversalClient
	defaults Reading
}

func NewRedis(client redis.UniversalClient, defaults Reading) *Redis {
	return &Redis{client: client, defaults: defaults}
}

func (s *Redis) Update(ctx context.Context, r Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.client.HSet(ctx, redisKey,
		"soc", strconv.FormatFloat(r.SocPercent, 'f', -1, 64),
		"power", strconv.FormatFloat(r.ActivePowerMW, 'f', -1, 64),
		"temp", strconv.FormatFloat(r.TemperatureC, 'f', -1, 64),
		"ts", strconv.FormatInt(r.UpdatedAt.UnixMilli(), 10),
	).Err()
}

func (s *Redis) Latest(ctx context.Context) (Reading, error) {
	vals, err := s.client.HGetAll(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return s.defaults, nil
	}
	if err != nil {
		return Reading{}, err
	}

	r := s.defaults
	if v, ok := vals["soc"]; ok {
		r.SocPercent, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := vals["power"]; ok {
		r.ActivePowerMW, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := vals["temp"]; ok {
		r.TemperatureC, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := vals["ts"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.UpdatedAt = time.UnixMilli(ms).UTC()
		}
	}
	return r, nil
}
