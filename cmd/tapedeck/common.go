package main

import (
	"time"

	"github.com/tapedeck-dev/tapedeck/internal/match"
	"github.com/tapedeck-dev/tapedeck/internal/redact"
	"github.com/tapedeck-dev/tapedeck/internal/rules"
)

const (
	quietWindow   = 150 * time.Millisecond
	expectTimeout = 10 * time.Second
)

func loadRulesAndRedactor(path string) (match.Rules, *redact.Engine, error) {
	if path == "" {
		return match.Rules{}, redact.Default, nil
	}
	f, err := rules.Load(path)
	if err != nil {
		return match.Rules{}, nil, err
	}
	engine, err := redact.New(customRedactions(f.CustomRedactions))
	if err != nil {
		return match.Rules{}, nil, err
	}
	return match.Rules{
		AllowEnv:    f.AllowEnv,
		IgnoreEnv:   f.IgnoreEnv,
		IgnoreArgs:  f.IgnoreArgs,
		IgnoreStdin: f.IgnoreStdin,
	}, engine, nil
}

func customRedactions(m map[string]string) map[redact.Category]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[redact.Category]string, len(m))
	for k, v := range m {
		out[redact.Category(k)] = v
	}
	return out
}
