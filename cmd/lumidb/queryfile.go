package main

import (
	"encoding/json"
	"os"

	"github.com/lumidb/lumidb/query"
)

// queryFile is the on-disk json shape of a query, the CLI counterpart to
// the document json a write-path request carries.
type queryFile struct {
	Collection string          `json:"collection"`
	Where      []query.Where   `json:"where"`
	Or         [][]query.Where `json:"or"`
	OrderBy    []orderByFile   `json:"orderBy"`
	Min        map[string]any  `json:"min"`
	Max        map[string]any  `json:"max"`
	Hint       hintFile        `json:"hint"`
	Limit      int             `json:"limit"`
}

type orderByFile struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

type hintFile struct {
	IndexName string   `json:"indexName"`
	KeyFields []string `json:"keyFields"`
	Natural   bool     `json:"natural"`
}

func loadQueryFile(path string) (query.Query, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return query.Query{}, err
	}
	var qf queryFile
	if err := json.Unmarshal(bits, &qf); err != nil {
		return query.Query{}, err
	}
	q := query.Query{
		Collection: qf.Collection,
		Where:      qf.Where,
		Or:         qf.Or,
		Min:        qf.Min,
		Max:        qf.Max,
		Limit:      qf.Limit,
		Hint: query.Hint{
			IndexName: qf.Hint.IndexName,
			KeyFields: qf.Hint.KeyFields,
			Natural:   qf.Hint.Natural,
		},
	}
	for _, o := range qf.OrderBy {
		dir := query.OrderAsc
		if o.Desc {
			dir = query.OrderDesc
		}
		q.OrderBy = append(q.OrderBy, query.OrderBy{Field: o.Field, Direction: dir})
	}
	return q, nil
}
