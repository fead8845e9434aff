package timeline

import (
	"encoding/json"
	"slices"
	"strconv"
)

const (
	instructionTypeBlock    = "RequestFeed"
	instructionTypeLoadMore = "LoadMore"
)

// Instruction is one render step produced by Compile: either a ContiguousBlock
// or a LoadMore placeholder.
type Instruction interface {
	InstructionKey() string
	isInstruction()
}

// ContiguousBlock is a run of events from consecutive resident pages.
type ContiguousBlock struct {
	Key    string
	Events []Event
}

// InstructionKey returns the stable render key.
func (b ContiguousBlock) InstructionKey() string { return b.Key }

func (ContiguousBlock) isInstruction() {}

// MarshalJSON tags the block with its instruction type.
func (b ContiguousBlock) MarshalJSON() ([]byte, error) {
	events := b.Events
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(struct {
		Type     string  `json:"type"`
		Key      string  `json:"key"`
		Children []Event `json:"children"`
	}{Type: instructionTypeBlock, Key: b.Key, Children: events})
}

// LoadMore marks a known gap of unfetched events. Page is the page to fetch
// next and Count the number of events the gap represents.
type LoadMore struct {
	Key          string
	Page         int
	Count        int
	LoadingAbove bool
}

// InstructionKey returns the stable render key.
func (l LoadMore) InstructionKey() string { return l.Key }

func (LoadMore) isInstruction() {}

// MarshalJSON tags the placeholder with its instruction type.
func (l LoadMore) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           string `json:"type"`
		Key            string `json:"key"`
		Page           int    `json:"page"`
		Count          int    `json:"count"`
		IsLoadingAbove bool   `json:"isLoadingAbove"`
	}{Type: instructionTypeLoadMore, Key: l.Key, Page: l.Page, Count: l.Count, IsLoadingAbove: l.LoadingAbove})
}

// CompileOptions configures Compile.
type CompileOptions struct {
	PageSize int
	// Reversed renders pages highest first, as reply threads do.
	Reversed bool
}

// Compile turns the store into render instructions: contiguous pages merge into
// one block and every gap between resident pages yields exactly one LoadMore.
// It is a pure function of its inputs.
func Compile(store PageStore, opts CompileOptions) []Instruction {
	instructions := []Instruction{}
	pageNumbers := store.PageNumbers()
	if len(pageNumbers) == 0 || opts.PageSize <= 0 {
		return instructions
	}
	size := opts.PageSize
	if opts.Reversed {
		slices.Reverse(pageNumbers)
	}

	// Virtual page events are not counted by the server yet.
	totalHits := store.TotalHits() - len(store.hits[VirtualPage])

	var block *ContiguousBlock
	flush := func() {
		if block != nil {
			instructions = append(instructions, *block)
			block = nil
		}
	}
	open := func(page int) {
		block = &ContiguousBlock{
			Key:    blockKey(page),
			Events: append([]Event(nil), store.hits[page]...),
		}
	}

	for i, page := range pageNumbers {
		if i == 0 {
			if !opts.Reversed {
				if page > 1 {
					instructions = append(instructions, LoadMore{
						Key:   loadMoreKey(page),
						Page:  page - 1,
						Count: (page - 1) * size,
					})
				}
			} else {
				lastPage := ceilDiv(totalHits, size)
				if lastPage-page > 0 {
					instructions = append(instructions, LoadMore{
						Key:   loadMoreKey(page + 1),
						Page:  page + 1,
						Count: totalHits - page*size,
					})
				}
			}
			open(page)
			continue
		}

		previous := pageNumbers[i-1]
		gap := page - previous
		if opts.Reversed {
			gap = previous - page
		}
		if gap > 1 {
			target := page - 1
			if opts.Reversed {
				target = page + 1
			}
			flush()
			instructions = append(instructions, LoadMore{
				Key:   loadMoreKey(page),
				Page:  target,
				Count: (gap - 1) * size,
			})
			open(page)
			continue
		}

		block.Events = append(block.Events, store.hits[page]...)
	}
	flush()
	return instructions
}

// Blocks returns only the contiguous blocks of a compiled feed.
func Blocks(instructions []Instruction) []ContiguousBlock {
	blocks := make([]ContiguousBlock, 0, len(instructions))
	for _, instruction := range instructions {
		if block, ok := instruction.(ContiguousBlock); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func blockKey(page int) string {
	return "RequestFeed-" + strconv.Itoa(page)
}

func loadMoreKey(page int) string {
	return "LoadMore-" + strconv.Itoa(page)
}

func ceilDiv(total, size int) int {
	if total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
