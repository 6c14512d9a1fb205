// Copyright (c) 2018, Postgres Professional

package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgrespro.ru/logicalrepl/internal/lrerrors"
	"postgrespro.ru/logicalrepl/internal/remotecluster"
)

type fakeCatalog struct {
	indices   map[string]bool
	templates map[string]bool
}

func (c fakeCatalog) IndexExists(name string) bool    { return c.indices[name] }
func (c fakeCatalog) TemplateExists(name string) bool { return c.templates[name] }

func TestVerifyTablesDoNotExistPasses(t *testing.T) {
	catalog := fakeCatalog{indices: map[string]bool{}, templates: map[string]bool{}}
	resp := &remotecluster.PublicationsStateResponse{ConcreteIndices: []string{"doc.t1"}}
	require.NoError(t, VerifyTablesDoNotExist(catalog, resp))
}

func TestVerifyTablesDoNotExistCollidesOnIndex(t *testing.T) {
	catalog := fakeCatalog{indices: map[string]bool{"doc.t1": true}}
	resp := &remotecluster.PublicationsStateResponse{ConcreteIndices: []string{"doc.t1"}}
	err := VerifyTablesDoNotExist(catalog, resp)
	require.Error(t, err)
	var exists lrerrors.RelationAlreadyExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "doc.t1", exists.RelationName)
}

func TestVerifyTablesDoNotExistCollidesOnTemplateTranslatesName(t *testing.T) {
	catalog := fakeCatalog{templates: map[string]bool{"doc.partitioned.t1": true}}
	resp := &remotecluster.PublicationsStateResponse{ConcreteTemplates: []string{"doc.partitioned.t1"}}
	err := VerifyTablesDoNotExist(catalog, resp)
	require.Error(t, err)
	var exists lrerrors.RelationAlreadyExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "doc.t1", exists.RelationName)
}
