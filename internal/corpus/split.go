package corpus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/siftlabs/sift/internal/model"
)

// DefaultSeed is the fixed seed used when freezing a split so the same corpus
// and fraction always produce the same test set.
const DefaultSeed = 42

// FreezeSplit picks a stratified random test set and persists the sorted id
// list to path. Each label group contributes max(1, floor(n*fraction)) ids,
// sampled without replacement with the given seed.
func FreezeSplit(records []model.Record, fraction float64, seed int64, path string) (map[string]struct{}, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("test fraction must be in (0, 1), got %v", fraction)
	}

	byLabel := make(map[string][]string)
	for i := range records {
		label := records[i].PrimaryLabel()
		byLabel[label] = append(byLabel[label], records[i].ID)
	}

	// Labels are visited in sorted order so the single seeded source yields
	// the same draw sequence on every run.
	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	rng := rand.New(rand.NewSource(seed))
	testIDs := make(map[string]struct{})
	for _, label := range labels {
		ids := byLabel[label]
		n := int(math.Floor(float64(len(ids)) * fraction))
		if n < 1 {
			n = 1
		}
		if n > len(ids) {
			n = len(ids)
		}
		for _, idx := range rng.Perm(len(ids))[:n] {
			testIDs[ids[idx]] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(testIDs))
	for id := range testIDs {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	data, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to encode split: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write split: %w", err)
	}

	slog.Info("Frozen test split", "ids", len(testIDs), "path", path)
	return testIDs, nil
}

// LoadSplit reads a previously frozen id set back verbatim.
func LoadSplit(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read split: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("malformed split file %s: %w", path, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// SplitExists reports whether a frozen split file is present.
func SplitExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResetSplit discards a frozen split so the next freeze starts fresh.
// Resetting a split that does not exist is not an error.
func ResetSplit(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove split: %w", err)
	}
	return nil
}

// Partition divides the live corpus into train and test by intersecting with
// the frozen id set. Frozen ids no longer present in the corpus are silently
// absent from both partitions.
func Partition(records []model.Record, testIDs map[string]struct{}) (train, test []model.Record) {
	for i := range records {
		if _, ok := testIDs[records[i].ID]; ok {
			test = append(test, records[i])
		} else {
			train = append(train, records[i])
		}
	}
	return train, test
}
