package domain

import "fmt"

// StoreDescriptor identifies one logical store instance. It is persisted
// alongside the store's rows and checked on startup: a version or key
// mismatch against the persisted descriptor means the persisted data belongs
// to an incompatible incarnation and is dropped.
type StoreDescriptor struct {
	Name        string            `json:"name"`
	Version     int               `json:"version"`
	Party       PartyID           `json:"party"`
	Participant string            `json:"participant"`
	Keys        map[string]string `json:"keys,omitempty"`
}

// Identity returns the stable identity under which descriptor rows are keyed.
// Version and Keys are deliberately excluded: they are what gets compared.
func (d StoreDescriptor) Identity() string {
	return fmt.Sprintf("%s/%s/%s", d.Name, d.Party, d.Participant)
}

// Equal reports whether two descriptors are fully compatible.
func (d StoreDescriptor) Equal(o StoreDescriptor) bool {
	if d.Name != o.Name || d.Version != o.Version || d.Party != o.Party || d.Participant != o.Participant {
		return false
	}
	if len(d.Keys) != len(o.Keys) {
		return false
	}
	for k, v := range d.Keys {
		if ov, ok := o.Keys[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
