package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"SERVICE_PORT", "STORE_DRIVER", "STORAGE_TYPE", "KAFKA_BROKERS", "KAFKA_TOPIC",
		"MAX_FILE_SIZE", "ALLOWED_EXTENSIONS", "WS_SEND_BUFFER"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8000" || cfg.StoreDriver != StoreMemory || cfg.StorageType != StorageLocal {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.MaxFileSize != 10*1024*1024 || cfg.WSSendBuffer != 32 || cfg.KafkaTopic != "task_updates" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if len(cfg.AllowedExtensions) != 2 || cfg.AllowedExtensions[0] != ".txt" || cfg.AllowedExtensions[1] != ".md" {
		t.Errorf("Unexpected extensions: %v", cfg.AllowedExtensions)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("Expected Kafka export disabled by default, got %v", cfg.KafkaBrokers)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVICE_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ALLOWED_EXTENSIONS", "TXT,.Md")
	t.Setenv("MAX_FILE_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Expected port 9000, got %s", cfg.Port)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.AllowedExtensions[0] != ".txt" || cfg.AllowedExtensions[1] != ".md" {
		t.Errorf("Expected normalized extensions, got %v", cfg.AllowedExtensions)
	}
	if cfg.MaxFileSize != 10*1024*1024 {
		t.Errorf("Expected invalid size to fall back to default, got %d", cfg.MaxFileSize)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"STORE_DRIVER":   {"STORE_DRIVER": "mysql"},
		"STORAGE_TYPE":   {"STORAGE_TYPE": "ftp"},
		"S3_BUCKET":      {"STORAGE_TYPE": "s3", "S3_BUCKET": ""},
		"S3_ACCESS_KEY":  {"STORAGE_TYPE": "s3", "S3_BUCKET": "b", "S3_ACCESS_KEY_ID": ""},
		"MAX_FILE_SIZE":  {"MAX_FILE_SIZE": "-1"},
		"WS_SEND_BUFFER": {"WS_SEND_BUFFER": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %v", env)
			}
		})
	}
}
