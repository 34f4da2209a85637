package main

import "time"

type Config struct {
	ProcessID                 string        `env:"PROCESS_ID"`
	Host                      string        `env:"HOST,default=0.0.0.0"`
	Port                      int           `env:"PORT,default=8080"`
	HealthPort                int           `env:"HEALTH_PORT,default=8081"`
	LogLevel                  string        `env:"LOG_LEVEL,default=info"`
	JWTSecret                 string        `env:"JWT_SECRET,required=true"`
	RedisURL                  string        `env:"REDIS_URL,required=true"`
	BadgerFilepath            string        `env:"BADGER_FILEPATH,required=true"`
	LimitMessages             *int          `env:"LIMIT_MESSAGES"`
	ConnectionBufferSize      int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	MaxPayloadBytes           int64         `env:"MAX_PAYLOAD_BYTES,default=65536"`
	FramesPerSecond           float64       `env:"FRAMES_PER_SECOND,default=20"`
	FrameBurst                int           `env:"FRAME_BURST,default=40"`
	PingPeriod                time.Duration `env:"PING_PERIOD,default=25s"`
	HeartbeatTimeout          time.Duration `env:"HEARTBEAT_TIMEOUT,default=60s"`
	HeartbeatSweepInterval    time.Duration `env:"HEARTBEAT_SWEEP_INTERVAL,default=10s"`
	PresenceGrace             time.Duration `env:"PRESENCE_GRACE,default=5s"`
	PresenceReapInterval      time.Duration `env:"PRESENCE_REAP_INTERVAL,default=1s"`
	TypingTTL                 time.Duration `env:"TYPING_TTL,default=3s"`
	TypingSweepInterval       time.Duration `env:"TYPING_SWEEP_INTERVAL,default=1s"`
	RestartInterval           time.Duration `env:"RESTART_INTERVAL,default=2s"`
	DrainBatchSize            int           `env:"DRAIN_BATCH_SIZE,default=100"`
	ModerationCharReplacement string        `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
}
