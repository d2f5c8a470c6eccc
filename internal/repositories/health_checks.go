package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SecretResolver resolves secret references for the Secret Manager readiness check.
type SecretResolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// FirestoreCheck lists one collection id to prove the order store answers.
func FirestoreCheck(client *firestore.Client) DependencyCheck {
	return DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

// RedisLockCheck pings the Redis instance holding order locks and idempotency records.
func RedisLockCheck(client redis.UniversalClient) DependencyCheck {
	return DependencyCheck{
		Name:    "redis",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// OrderEventsTopicCheck confirms the order events topic exists. Events are best effort, so a
// missing topic degrades readiness without failing it.
func OrderEventsTopicCheck(topic *pubsub.Topic) DependencyCheck {
	return DependencyCheck{
		Name:     "pubsub.orderEvents",
		Timeout:  1500 * time.Millisecond,
		Optional: true,
		Check: func(ctx context.Context) error {
			exists, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("topic %s not found", topic.ID())
			}
			return nil
		},
	}
}

// CallbackArchiveCheck reads the archive bucket metadata. Callbacks are still reconciled when the
// archive is down, so the check is optional.
func CallbackArchiveCheck(bucket *storage.BucketHandle) DependencyCheck {
	return DependencyCheck{
		Name:     "storage.callbackArchive",
		Timeout:  1500 * time.Millisecond,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := bucket.Attrs(ctx)
			return err
		},
	}
}

// SecretManagerCheck resolves a sentinel reference; NotFound still proves the API is reachable.
func SecretManagerCheck(resolver SecretResolver, reference string) DependencyCheck {
	return DependencyCheck{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := resolver.Resolve(ctx, reference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}
