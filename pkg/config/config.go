package config

// Config is the complete run configuration.
type Config struct {
	Env  Env
	File *File
}

// Load seeds the environment from .env, parses Env and reads the crawl
// file at path.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	e, err := ParseEnv()
	if err != nil {
		return nil, err
	}
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &Config{Env: e, File: f}, nil
}
