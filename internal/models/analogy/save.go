package analogy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Vocabulary names entity and relation ids. *knowledge.KnowledgeGraph
// implements it.
type Vocabulary interface {
	GetEntityName(id int64) string
	GetRelationName(id int64) string
}

// SaveEmbeddings writes all tables as text:
//
//	num_entities num_relations hidden_size
//	# Entities
//	E	<name> re_1..re_h/2 im_1..im_h/2 plain_1..plain_h
//	# Relations
//	R	<name> ...
//
// Rows without a name in vocab (or with a nil vocab) are written under their id.
func (m *Analogy) SaveEmbeddings(w io.Writer, vocab Vocabulary) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d %d\n", m.numEntities, m.numRelations, m.hiddenSize)

	fmt.Fprintln(bw, "# Entities")
	for i := 0; i < m.numEntities; i++ {
		name := ""
		if vocab != nil {
			name = vocab.GetEntityName(int64(i))
		}
		m.writeRow(bw, "E", name, i, EntityRe, EntityIm, Entity)
	}

	fmt.Fprintln(bw, "# Relations")
	for i := 0; i < m.numRelations; i++ {
		name := ""
		if vocab != nil {
			name = vocab.GetRelationName(int64(i))
		}
		m.writeRow(bw, "R", name, i, RelationRe, RelationIm, Relation)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	return nil
}

func (m *Analogy) writeRow(w *bufio.Writer, kind, name string, id int, tables ...Table) {
	if name == "" {
		name = strconv.Itoa(id)
	}
	fmt.Fprintf(w, "%s\t%s", kind, name)
	for _, t := range tables {
		for _, v := range m.tables[t].RawRowView(id) {
			fmt.Fprintf(w, " %.6f", v)
		}
	}
	fmt.Fprintln(w)
}

// SaveEmbeddingsFile writes SaveEmbeddings output to filename.
func (m *Analogy) SaveEmbeddingsFile(filename string, vocab Vocabulary) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := m.SaveEmbeddings(file, vocab); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
