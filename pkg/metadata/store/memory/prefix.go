package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/objectgate/gateway/pkg/metadata"
)

func (t *tx) EnsurePrefixes(ctx context.Context, bucketID, objectName string) error {
	for _, name := range ancestorsOf(objectName) {
		key := bucketName{bucketID, name}
		if _, ok := t.store.prefixes[key]; ok {
			continue
		}
		t.store.prefixes[key] = metadata.Prefix{
			ID:        uuid.NewString(),
			BucketID:  bucketID,
			Name:      name,
			CreatedAt: time.Now(),
		}
	}
	return nil
}

func (t *tx) CleanupPrefixes(ctx context.Context, bucketID, objectName string) error {
	ancestors := ancestorsOf(objectName)
	sort.Sort(sort.Reverse(sort.StringSlice(ancestors)))

	for _, name := range ancestors {
		if t.hasChildren(bucketID, name) {
			break
		}
		delete(t.store.prefixes, bucketName{bucketID, name})
	}
	return nil
}

func (t *tx) hasChildren(bucketID, name string) bool {
	childPrefix := name + "/"
	for key := range t.store.objects {
		if key.bucketID == bucketID && key.name != name && strings.HasPrefix(key.name, childPrefix) {
			return true
		}
	}
	for key := range t.store.prefixes {
		if key.bucketID == bucketID && key.name != name && strings.HasPrefix(key.name, childPrefix) {
			return true
		}
	}
	return false
}

func (t *tx) ListChildPrefixes(ctx context.Context, bucketID, prefix string) ([]string, error) {
	like := prefix + "/"
	var out []string
	for key := range t.store.prefixes {
		if key.bucketID != bucketID {
			continue
		}
		if prefix == "" || strings.HasPrefix(key.name, like) {
			out = append(out, key.name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func ancestorsOf(objectName string) []string {
	parts := strings.Split(objectName, "/")
	if len(parts) <= 1 {
		return nil
	}
	ancestors := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		ancestors = append(ancestors, strings.Join(parts[:i], "/"))
	}
	return ancestors
}
