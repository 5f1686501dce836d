package knowledge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrUnknownEntity is returned when a name is not in the entity vocabulary.
	ErrUnknownEntity = errors.New("knowledge: unknown entity")

	// ErrUnknownRelation is returned when a name is not in the relation vocabulary.
	ErrUnknownRelation = errors.New("knowledge: unknown relation")

	// ErrEmptyGraph is returned when sampling from a graph without entities.
	ErrEmptyGraph = errors.New("knowledge: graph has no entities")

	// ErrSingleEntity is returned when corrupting a triple in a graph with one
	// entity, which has no replacement to offer.
	ErrSingleEntity = errors.New("knowledge: graph has a single entity")
)

// Triple represents a knowledge graph triple (head, relation, tail).
// Head is the subject and Tail the object of the relation.
type Triple struct {
	Head     int64
	Relation int64
	Tail     int64
	Weight   float64
}

type tripleKey struct {
	head, relation, tail int64
}

func keyOf(t Triple) tripleKey {
	return tripleKey{t.Head, t.Relation, t.Tail}
}

// KnowledgeGraph represents a knowledge graph with entities and relations
type KnowledgeGraph struct {
	// Entity and relation mappings
	EntityHash   map[string]int64
	RelationHash map[string]int64
	EntityKeys   []string
	RelationKeys []string

	// Training triples
	Triples []Triple

	// Statistics
	NumEntities  int64
	NumRelations int64
	NumTriples   int64

	// relation -> sorted entities seen with it, used for negative sampling
	entitiesPerRelation map[int64][]int64
	// every triple the graph has seen, including split triples registered with MarkKnown
	known map[tripleKey]struct{}
	// entity occurrence counts, feeding the fallback sampler
	degree []float64
	noise  AliasTable

	log zerolog.Logger
}

// NewKnowledgeGraph creates a new knowledge graph instance
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		EntityHash:          make(map[string]int64),
		RelationHash:        make(map[string]int64),
		EntityKeys:          make([]string, 0),
		RelationKeys:        make([]string, 0),
		Triples:             make([]Triple, 0),
		entitiesPerRelation: make(map[int64][]int64),
		known:               make(map[tripleKey]struct{}),
		log:                 zerolog.Nop(),
	}
}

// SetLogger attaches a logger used while loading.
func (kg *KnowledgeGraph) SetLogger(log zerolog.Logger) {
	kg.log = log
}

// LoadTriples loads knowledge graph triples from a file
// Format: head relation tail [weight]
// Example: "Barack_Obama born_in Hawaii 1.0"
func (kg *KnowledgeGraph) LoadTriples(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	kg.log.Info().Str("path", filename).Msg("loading knowledge graph")
	return kg.ReadTriples(file)
}

// ReadTriples reads training triples from r, growing the vocabulary as new
// names appear. Ids are assigned in first-seen order.
func (kg *KnowledgeGraph) ReadTriples(r io.Reader) error {
	lineCount := int64(0)
	err := scanTriples(r, func(head, relation, tail string, weight float64) error {
		kg.AddTriple(head, relation, tail, weight)
		lineCount++
		if lineCount%100000 == 0 {
			kg.log.Debug().Int64("triples", lineCount).Msg("loading")
		}
		return nil
	})
	if err != nil {
		return err
	}
	kg.finalize()

	kg.log.Info().
		Int64("entities", kg.NumEntities).
		Int64("relations", kg.NumRelations).
		Int64("triples", kg.NumTriples).
		Msg("knowledge graph loaded")
	return nil
}

// AddTriple appends one named training triple. Callers adding triples one by
// one must not sample before the graph is finalized by ReadTriples or Build.
func (kg *KnowledgeGraph) AddTriple(head, relation, tail string, weight float64) Triple {
	t := Triple{
		Head:     kg.getOrCreateEntity(head),
		Relation: kg.getOrCreateRelation(relation),
		Tail:     kg.getOrCreateEntity(tail),
		Weight:   weight,
	}
	kg.Triples = append(kg.Triples, t)
	kg.known[keyOf(t)] = struct{}{}
	return t
}

// Build finalizes indices after triples were added with AddTriple.
func (kg *KnowledgeGraph) Build() {
	kg.finalize()
}

func (kg *KnowledgeGraph) finalize() {
	kg.NumTriples = int64(len(kg.Triples))
	kg.NumEntities = int64(len(kg.EntityKeys))
	kg.NumRelations = int64(len(kg.RelationKeys))

	seen := make(map[int64]map[int64]struct{})
	kg.degree = make([]float64, kg.NumEntities)
	for _, t := range kg.Triples {
		set, ok := seen[t.Relation]
		if !ok {
			set = make(map[int64]struct{})
			seen[t.Relation] = set
		}
		set[t.Head] = struct{}{}
		set[t.Tail] = struct{}{}
		kg.degree[t.Head]++
		kg.degree[t.Tail]++
	}

	kg.entitiesPerRelation = make(map[int64][]int64, len(seen))
	for rel, set := range seen {
		list := make([]int64, 0, len(set))
		for e := range set {
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		kg.entitiesPerRelation[rel] = list
	}

	kg.noise = NewAliasTable(kg.degree, PowerSample)
}

// ReadSplit reads held-out triples that share this graph's vocabulary.
// Triples naming unknown entities or relations are skipped; the number
// skipped is returned alongside the triples.
func (kg *KnowledgeGraph) ReadSplit(r io.Reader) ([]Triple, int, error) {
	var (
		triples []Triple
		skipped int
	)
	err := scanTriples(r, func(head, relation, tail string, weight float64) error {
		t, err := kg.Lookup(head, relation, tail)
		if err != nil {
			skipped++
			return nil
		}
		t.Weight = weight
		triples = append(triples, t)
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	if skipped > 0 {
		kg.log.Warn().Int("skipped", skipped).Msg("split triples with unknown names")
	}
	return triples, skipped, nil
}

// LoadSplit opens filename and reads it with ReadSplit.
func (kg *KnowledgeGraph) LoadSplit(filename string) ([]Triple, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	triples, _, err := kg.ReadSplit(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	kg.log.Info().Str("path", filename).Int("triples", len(triples)).Msg("split loaded")
	return triples, nil
}

// MarkKnown registers triples as true without training on them, so filtered
// evaluation can skip them.
func (kg *KnowledgeGraph) MarkKnown(triples []Triple) {
	for _, t := range triples {
		kg.known[keyOf(t)] = struct{}{}
	}
}

// Has reports whether the triple is known to be true.
func (kg *KnowledgeGraph) Has(t Triple) bool {
	_, ok := kg.known[keyOf(t)]
	return ok
}

// Lookup resolves names to an id triple with weight 1.
func (kg *KnowledgeGraph) Lookup(head, relation, tail string) (Triple, error) {
	h, ok := kg.EntityHash[head]
	if !ok {
		return Triple{}, fmt.Errorf("%q: %w", head, ErrUnknownEntity)
	}
	r, ok := kg.RelationHash[relation]
	if !ok {
		return Triple{}, fmt.Errorf("%q: %w", relation, ErrUnknownRelation)
	}
	t, ok := kg.EntityHash[tail]
	if !ok {
		return Triple{}, fmt.Errorf("%q: %w", tail, ErrUnknownEntity)
	}
	return Triple{Head: h, Relation: r, Tail: t, Weight: 1.0}, nil
}

func scanTriples(r io.Reader, fn func(head, relation, tail string, weight float64) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}

		weight := 1.0
		if len(parts) >= 4 {
			w, err := strconv.ParseFloat(parts[3], 64)
			if err == nil {
				weight = w
			}
		}

		if err := fn(parts[0], parts[1], parts[2], weight); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading triples: %w", err)
	}
	return nil
}

// getOrCreateEntity gets or creates an entity ID
func (kg *KnowledgeGraph) getOrCreateEntity(name string) int64 {
	if id, exists := kg.EntityHash[name]; exists {
		return id
	}

	id := int64(len(kg.EntityKeys))
	kg.EntityHash[name] = id
	kg.EntityKeys = append(kg.EntityKeys, name)
	return id
}

// getOrCreateRelation gets or creates a relation ID
func (kg *KnowledgeGraph) getOrCreateRelation(name string) int64 {
	if id, exists := kg.RelationHash[name]; exists {
		return id
	}

	id := int64(len(kg.RelationKeys))
	kg.RelationHash[name] = id
	kg.RelationKeys = append(kg.RelationKeys, name)
	return id
}

// GetEntityName returns the name of an entity by ID
func (kg *KnowledgeGraph) GetEntityName(id int64) string {
	if id < 0 || id >= int64(len(kg.EntityKeys)) {
		return ""
	}
	return kg.EntityKeys[id]
}

// GetRelationName returns the name of a relation by ID
func (kg *KnowledgeGraph) GetRelationName(id int64) string {
	if id < 0 || id >= int64(len(kg.RelationKeys)) {
		return ""
	}
	return kg.RelationKeys[id]
}

// maxResample bounds redraws of the entity being replaced before falling back
// to a uniform draw over the other entities.
const maxResample = 10

// SampleNegativeHead samples an entity other than triple.Head to replace it.
func (kg *KnowledgeGraph) SampleNegativeHead(triple Triple, rng *rand.Rand) int64 {
	return kg.sampleForRelation(triple.Relation, triple.Head, rng)
}

// SampleNegativeTail samples an entity other than triple.Tail to replace it.
func (kg *KnowledgeGraph) SampleNegativeTail(triple Triple, rng *rand.Rand) int64 {
	return kg.sampleForRelation(triple.Relation, triple.Tail, rng)
}

// sampleForRelation draws an entity other than exclude from the entities that
// appear with the relation, falling back to the degree-weighted noise
// distribution. The graph must hold at least two entities.
func (kg *KnowledgeGraph) sampleForRelation(relation, exclude int64, rng *rand.Rand) int64 {
	entities := kg.entitiesPerRelation[relation]
	for i := 0; i < maxResample; i++ {
		var id int64
		switch {
		case len(entities) > 1:
			id = entities[rng.Intn(len(entities))]
		case len(kg.noise) > 0:
			id = kg.noise.Sample(rng)
		default:
			id = rng.Int63n(kg.NumEntities)
		}
		if id != exclude {
			return id
		}
	}
	id := rng.Int63n(kg.NumEntities - 1)
	if id >= exclude {
		id++
	}
	return id
}

// Corrupt replaces the head or the tail of triple, each with probability 1/2,
// by a different entity.
func (kg *KnowledgeGraph) Corrupt(triple Triple, rng *rand.Rand) (Triple, error) {
	switch kg.NumEntities {
	case 0:
		return Triple{}, ErrEmptyGraph
	case 1:
		return Triple{}, ErrSingleEntity
	}
	neg := triple
	if rng.Float64() < 0.5 {
		neg.Head = kg.SampleNegativeHead(triple, rng)
	} else {
		neg.Tail = kg.SampleNegativeTail(triple, rng)
	}
	return neg, nil
}

// Batches returns the training triples shuffled by rng and cut into batches of
// at most size triples. The final batch may be shorter.
func (kg *KnowledgeGraph) Batches(size int, rng *rand.Rand) [][]Triple {
	if size <= 0 || len(kg.Triples) == 0 {
		return nil
	}
	indices := rng.Perm(len(kg.Triples))

	batches := make([][]Triple, 0, (len(indices)+size-1)/size)
	for start := 0; start < len(indices); start += size {
		end := start + size
		if end > len(indices) {
			end = len(indices)
		}
		batch := make([]Triple, 0, end-start)
		for _, idx := range indices[start:end] {
			batch = append(batch, kg.Triples[idx])
		}
		batches = append(batches, batch)
	}
	return batches
}
