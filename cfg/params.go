package cfg

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParamList splits a comma separated adapter parameter, dropping blanks
func ParamList(params map[string]string, key string) []string {
	var out []string
	for _, v := range strings.Split(params[key], ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParamInt parses an integer adapter parameter, def when unset
func ParamInt(params map[string]string, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// ParamMillis parses a millisecond adapter parameter into a duration
func ParamMillis(params map[string]string, key string, def time.Duration) (time.Duration, error) {
	n, err := ParamInt(params, key, -1)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return def, nil
	}
	return time.Duration(n) * time.Millisecond, nil
}
