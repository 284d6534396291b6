package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

const pipelineSrc = `
board: {
	id: "pipeline"

	slots: {
		source: { pinout: "stream" }
		worker: {
			pinout:   "job"
			capacity: 2
			mode:     "reduce"
			lattice:  "MaxInt"
		}
	}

	pinouts: {
		g1: { inputs: ["in"], outputs: ["out"] }
	}

	wires: {
		feed: {
			from: { slot: "source", pin: "out" }
			to:   { slot: "worker" }
			aspects: [
				{ name: "RateLimit", params: { rps: 10 } },
			]
		}
	}

	aspects: {
		board: [
			{ name: "Pause" },
		]
	}

	policy: {
		allowed_aspects: ["Pause", "RateLimit", "Fence"]
		max_slots:       8
	}
}
`

func compileSrc(t *testing.T, src string) (*ir.Board, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileBoard(v.LookupPath(cue.ParsePath("board")))
}

func TestCompileBoardBasic(t *testing.T) {
	board, err := compileSrc(t, pipelineSrc)
	require.NoError(t, err)

	assert.Equal(t, ir.BoardID("pipeline"), board.ID)
	assert.Len(t, board.Slots, 2)

	source := board.Slots["source"]
	assert.Equal(t, "stream", source.Pinout)
	assert.Equal(t, ir.ReplicaAny, source.Policy.Mode, "mode defaults to any")

	worker := board.Slots["worker"]
	assert.Equal(t, 2, worker.Capacity)
	assert.Equal(t, ir.ReplicaReduce, worker.Policy.Mode)
	assert.Equal(t, "MaxInt", worker.Policy.Lattice)

	require.Contains(t, board.Wires, ir.WireID("feed"))
	feed := board.Wires["feed"]
	assert.Equal(t, ir.SlotID("source"), feed.From.Slot)
	assert.Equal(t, "out", feed.From.Pin)
	require.Len(t, feed.Aspects, 1)
	assert.Equal(t, "RateLimit", feed.Aspects[0].Name)
	assert.True(t, ir.Equal(ir.Object{"rps": ir.Int(10)}, feed.Aspects[0].Params))

	require.Contains(t, board.Aspects, "board")
	assert.Equal(t, "Pause", board.Aspects["board"][0].Name)

	require.NotNil(t, board.Policy)
	assert.Equal(t, 8, board.Policy.MaxSlots)
	assert.Equal(t, []string{"Pause", "RateLimit", "Fence"}, board.Policy.AllowedAspects)
}

func TestCompileBoardSource(t *testing.T) {
	board, err := CompileBoardSource("pipeline.cue", []byte(pipelineSrc))
	require.NoError(t, err)
	assert.Equal(t, ir.BoardID("pipeline"), board.ID)
}

func TestCompileBoardMissingID(t *testing.T) {
	_, err := compileSrc(t, `board: { slots: {} }`)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "id", cerr.Field)
}

func TestCompileBoardMissingPinout(t *testing.T) {
	_, err := compileSrc(t, `
		board: {
			id: "b"
			slots: { s: { mode: "any" } }
		}
	`)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "slots.s.pinout", cerr.Field)
}

func TestCompileBoardInvalidMode(t *testing.T) {
	_, err := compileSrc(t, `
		board: {
			id: "b"
			slots: { s: { pinout: "p", mode: "round-robin" } }
		}
	`)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Message, "round-robin")
}

func TestCompileBoardDanglingWire(t *testing.T) {
	_, err := compileSrc(t, `
		board: {
			id: "b"
			slots: { a: { pinout: "p" } }
			wires: {
				w: {
					from: { slot: "a" }
					to:   { slot: "ghost" }
				}
			}
		}
	`)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Message, "ghost")
}

func TestCompileBoardEndpointBothSet(t *testing.T) {
	_, err := compileSrc(t, `
		board: {
			id: "b"
			slots: { a: { pinout: "p" } }
			pinouts: { g: { outputs: ["out"] } }
			wires: {
				w: {
					from: { slot: "a", gadget: "g" }
					to:   { slot: "a" }
				}
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of slot/gadget")
}

func TestCompileBoardRejectsFloatParams(t *testing.T) {
	_, err := compileSrc(t, `
		board: {
			id: "b"
			slots: { a: { pinout: "p" }, z: { pinout: "p" } }
			wires: {
				w: {
					from: { slot: "a" }
					to:   { slot: "z" }
					aspects: [ { name: "RateLimit", params: { rps: 2.5 } } ]
				}
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")
}

func TestCompileBoardRejectsNullParams(t *testing.T) {
	_, err := compileSrc(t, `
		board: {
			id: "b"
			slots: { a: { pinout: "p" }, z: { pinout: "p" } }
			wires: {
				w: {
					from: { slot: "a" }
					to:   { slot: "z" }
					aspects: [ { name: "Fence", params: { fence_ids: null } } ]
				}
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")
}

func TestCompileBoardNestedParams(t *testing.T) {
	board, err := compileSrc(t, `
		board: {
			id: "b"
			slots: { a: { pinout: "p" }, z: { pinout: "p" } }
			wires: {
				w: {
					from: { slot: "a" }
					to:   { slot: "z" }
					aspects: [ {
						name: "Fence"
						params: {
							fence_ids: ["f1", "f2"]
							timestamp: 42
							meta: { owner: "ops", urgent: true }
						}
					} ]
				}
			}
		}
	`)
	require.NoError(t, err)

	params := board.Wires["w"].Aspects[0].Params
	want := ir.Object{
		"fence_ids": ir.Array{ir.String("f1"), ir.String("f2")},
		"timestamp": ir.Int(42),
		"meta":      ir.Object{"owner": ir.String("ops"), "urgent": ir.Bool(true)},
	}
	assert.True(t, ir.Equal(want, params))
}

func TestCompileBoardSourceMissingBoard(t *testing.T) {
	_, err := CompileBoardSource("x.cue", []byte(`other: { id: "b" }`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no top-level board")
}

func TestCompiledBoardIsHashable(t *testing.T) {
	board, err := compileSrc(t, pipelineSrc)
	require.NoError(t, err)

	h1, err := board.Hash(ir.DefaultAspectSort)
	require.NoError(t, err)
	h2, err := board.Hash(ir.DefaultAspectSort)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
