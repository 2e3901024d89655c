package handler

import (
	"net/http"
	"time"

	"github.com/GoPolymarket/logbridge/internal/deobf"
	"github.com/GoPolymarket/logbridge/internal/symbols"
	"github.com/gin-gonic/gin"
)

type PermutationHandler struct {
	store *symbols.Store
	deobf *deobf.Deobfuscator
}

func NewPermutationHandler(store *symbols.Store, d *deobf.Deobfuscator) *PermutationHandler {
	return &PermutationHandler{store: store, deobf: d}
}

type mapStatus struct {
	Source  string `json:"source"`
	Symbols int    `json:"symbols"`
}

type permutationStatus struct {
	Permutation string      `json:"permutation"`
	Available   bool        `json:"available"`
	Maps        []mapStatus `json:"maps"`
	Failures    []string    `json:"failures,omitempty"`
	Checked     bool        `json:"checked"`
	LoadedAt    time.Time   `json:"loaded_at"`
}

// List handles GET /v1/permutations.
func (h *PermutationHandler) List(c *gin.Context) {
	entries := h.store.Permutations()
	out := make([]permutationStatus, 0, len(entries))
	for _, e := range entries {
		st := permutationStatus{
			Permutation: e.Permutation,
			Available:   e.Available(),
			Maps:        make([]mapStatus, 0, len(e.Maps)),
			Checked:     h.deobf.Checked().Contains(e.Permutation),
			LoadedAt:    e.LoadedAt,
		}
		for _, m := range e.Maps {
			st.Maps = append(st.Maps, mapStatus{Source: m.Source(), Symbols: m.Len()})
		}
		for _, err := range e.Failures {
			st.Failures = append(st.Failures, err.Error())
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, gin.H{
		"sources":         h.store.SourceNames(),
		"dev_permutation": h.deobf.DevPermutation(),
		"permutations":    out,
	})
}
