// Copyright (c) 2018, Postgres Professional

package restore

import (
	"strings"

	"postgrespro.ru/logicalrepl/internal/lrerrors"
	"postgrespro.ru/logicalrepl/internal/remotecluster"
)

// LocalCatalog is the slice of the (out-of-scope) SQL catalog this
// package needs: existence checks for concrete indices/templates.
// Injected rather than imported, per spec.md §1's "system-table
// reflection over in-memory state" being an external collaborator.
type LocalCatalog interface {
	IndexExists(name string) bool
	TemplateExists(name string) bool
}

// VerifyTablesDoNotExist implements the pre-flight check spec.md §4.4
// requires before the Supervisor ever invokes Restore: it must fail
// with RelationAlreadyExists if any concrete index or template name in
// the publisher's response already exists locally. Partitioned tables
// are matched on their template name, translated back to the logical
// relation name for the error, per the tie-break rule.
func VerifyTablesDoNotExist(catalog LocalCatalog, resp *remotecluster.PublicationsStateResponse) error {
	for _, idx := range resp.ConcreteIndices {
		if catalog.IndexExists(idx) {
			return lrerrors.RelationAlreadyExists{RelationName: idx}
		}
	}
	for _, tmpl := range resp.ConcreteTemplates {
		if catalog.TemplateExists(tmpl) {
			return lrerrors.RelationAlreadyExists{RelationName: logicalNameFromTemplate(tmpl)}
		}
	}
	return nil
}

// logicalNameFromTemplate reverses the template-name-from-relation-name
// convention (".partitioned." infix, matching how the teacher's
// cluster.StolonSpec-adjacent naming collapses schema/relation into a
// single templated name) so the error names the relation, not the
// physical template.
func logicalNameFromTemplate(template string) string {
	return strings.Replace(template, ".partitioned.", ".", 1)
}
