package instance

import "os"

// GetID returns the process instance identifier used in logs. Heroku dynos
// report through DYNO; anything else falls back to "local".
func GetID() string {
	for _, key := range []string{"LIVEOPS_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
