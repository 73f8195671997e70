/*
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/BleedingDev/almostbun-sub000/cmd/state"
	"github.com/BleedingDev/almostbun-sub000/internal/cachestore"
)

func exactArgsWithMsg(n int, msg string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("accepts %d arg(s), received %d: %s", n, len(args), msg)
		}
		return nil
	}
}

// fprintf panics when there's an error writing to w.
func fprintf(w io.Writer, format string, a ...interface{}) (n int) {
	n, err := fmt.Fprintf(w, format, a...)
	if err != nil {
		panic(err.Error())
	}
	return n
}

// newCacheStore builds the persistent archive-cache backend of spec §5
// from environment variables, grounded on the same env-map precedence
// internal/config reads from. ALMOSTBUN_CACHE_BACKEND selects "redis" or
// "s3"; anything else (including unset) disables the persistent tier and
// a run falls back to its in-memory-only cache, same as a nil Store.
func newCacheStore(gs *state.GlobalState) cachestore.Store {
	switch gs.EnvVars["ALMOSTBUN_CACHE_BACKEND"] {
	case "redis":
		addr := gs.EnvVars["ALMOSTBUN_CACHE_REDIS_ADDR"]
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		return cachestore.NewRedisStore(client, "almostbun")
	case "s3":
		bucket := gs.EnvVars["ALMOSTBUN_CACHE_S3_BUCKET"]
		if bucket == "" {
			return nil
		}
		prefix := gs.EnvVars["ALMOSTBUN_CACHE_S3_PREFIX"]
		if prefix == "" {
			prefix = "almostbun-cache"
		}
		store, err := cachestore.NewS3Store(context.Background(), bucket, prefix)
		if err != nil {
			gs.Logger.WithError(err).Warn("s3 cache store unavailable, falling back to in-memory-only cache")
			return nil
		}
		return store
	default:
		return nil
	}
}
