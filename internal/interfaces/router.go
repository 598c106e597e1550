package interfaces

import "github.com/ternarybob/easel/internal/models"

// RouterService places tasks on nodes. Candidate ordering is deterministic:
// ties break by node id.
type RouterService interface {
	// Candidates returns the full ordered candidate list for a task, with
	// the overflow rule already applied to the head. Returns NoCapableNode
	// when no healthy node has the required capability.
	Candidates(taskClass models.TaskClass, modelFamily string, preferredNode string) ([]*models.Node, error)

	// PickOne returns the head of the candidate list.
	PickOne(taskClass models.TaskClass, modelFamily string, preferredNode string) (*models.Node, error)

	// Allocate divides total across candidates: each gets floor(total/K),
	// remainder to the first candidates in order. Keys are node ids.
	Allocate(candidates []*models.Node, total int) map[string]int
}
