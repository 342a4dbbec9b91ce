package cache

import (
	"strconv"
	"time"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

const dependencyTTL = 24 * time.Hour

func DependencyKey(name string) string {
	return "dep:" + name
}

// Generation returns the current marker for a dependency; "0" until it is first touched.
// Keys that embed the marker go stale as soon as TouchDependency runs.
func Generation(cm types.CacheManager, name string) string {
	if generation, ok := Load[string](cm, DependencyKey(name)); ok {
		return generation
	}
	return "0"
}

func TouchDependency(cm types.CacheManager, names ...string) error {
	generation := strconv.FormatInt(time.Now().UnixNano(), 36)

	for _, name := range names {
		if err := cm.Set(DependencyKey(name), generation, dependencyTTL); err != nil {
			return types.WrapError(err, "failed to touch cache dependency "+name)
		}
	}
	return nil
}
