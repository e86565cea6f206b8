// Package redis connects to Redis with go-redis/v9 and exposes a readiness
// probe. The billing price cache is the main consumer.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	probe := redis.Healthcheck(client)
package redis
