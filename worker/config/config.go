package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config tunes task processing and timeout enforcement.
type Config struct {
	MaxConcurrentTasks int
	TaskTimeout        time.Duration
	MonitorInterval    time.Duration

	StageMinDelay time.Duration
	StageMaxDelay time.Duration
	StageMinStep  int
	StageMaxStep  int
}

func Load() (*Config, error) {
	cfg := &Config{
		MaxConcurrentTasks: getEnvAsInt("MAX_CONCURRENT_TASKS", 3),
		TaskTimeout:        time.Duration(getEnvAsInt("TASK_TIMEOUT_SECONDS", 300)) * time.Second,
		MonitorInterval:    time.Duration(getEnvAsInt("MONITOR_INTERVAL_SECONDS", 60)) * time.Second,
		StageMinDelay:      time.Duration(getEnvAsInt("STAGE_MIN_DELAY_MS", 500)) * time.Millisecond,
		StageMaxDelay:      time.Duration(getEnvAsInt("STAGE_MAX_DELAY_MS", 2000)) * time.Millisecond,
		StageMinStep:       getEnvAsInt("STAGE_MIN_STEP", 5),
		StageMaxStep:       getEnvAsInt("STAGE_MAX_STEP", 20),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("TASK_TIMEOUT_SECONDS must be positive")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL_SECONDS must be positive")
	}
	if c.MonitorInterval > c.TaskTimeout {
		return fmt.Errorf("MONITOR_INTERVAL_SECONDS (%s) must not exceed TASK_TIMEOUT_SECONDS (%s)", c.MonitorInterval, c.TaskTimeout)
	}
	if c.StageMinDelay < 0 || c.StageMaxDelay < c.StageMinDelay {
		return fmt.Errorf("stage delay range %s..%s is invalid", c.StageMinDelay, c.StageMaxDelay)
	}
	if c.StageMinStep < 1 || c.StageMaxStep < c.StageMinStep || c.StageMaxStep > 100 {
		return fmt.Errorf("stage step range %d..%d is invalid", c.StageMinStep, c.StageMaxStep)
	}
	return nil
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
