package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"splicestore/internal/blob"
	"splicestore/pkg/domain"
)

// SnapshotKey builds a unique blob key for an exported snapshot.
func SnapshotKey(party domain.PartyID, migration domain.MigrationID) string {
	return fmt.Sprintf("snapshots/%s/%d/%s.jsonl", party, migration, uuid.NewString())
}

// ExportSnapshot writes the store's active contracts for the given templates
// to a new snapshot blob, one JSON contract per line, and returns the blob
// key. The export is not transactional across templates; run it against a
// quiesced store.
func ExportSnapshot(ctx context.Context, st domain.Store, templates []domain.TemplateID, blobs blob.Store) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, template := range templates {
		token := ""
		for {
			page, err := st.ListContractsPaginated(ctx, template, token, domain.DefaultLimit(), domain.Ascending)
			if err != nil {
				return "", fmt.Errorf("list %s contracts: %w", template, err)
			}
			for _, c := range page.Contracts {
				if err := enc.Encode(c); err != nil {
					return "", fmt.Errorf("encode contract %s: %w", c.ID, err)
				}
			}
			if page.NextToken == "" {
				break
			}
			token = page.NextToken
		}
	}
	desc := st.Descriptor()
	key := SnapshotKey(desc.Party, st.Migration())
	if _, err := blobs.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "application/jsonl",
		Metadata: map[string]string{
			"store":     desc.Name,
			"party":     string(desc.Party),
			"migration": fmt.Sprintf("%d", st.Migration()),
		},
	}); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return key, nil
}
