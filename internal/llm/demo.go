package llm

// DemoScript returns a canned two-round conversation: a first plan with an
// out-of-range width, a critique asking for a fix, the corrected plan and an
// approval. It loops so the mock backend can serve repeated runs.
func DemoScript() *Script {
	s := Texts(demoDraftPlan, demoRevise, demoFinalPlan, demoApprove)
	s.Loop = true
	return s
}

const demoDraftPlan = `{
  "trajectory_summary": "Generate a mountain terrain using cellular automata for the base landmass, Perlin noise for elevation and height layers for distinct zones.",
  "tool_plan": [
    {
      "step": 1,
      "objective": "Create single connected mountain base",
      "tool_name": "CellularAutomataGenerator",
      "arguments": {"width": 512, "height": 512, "fill_probability": 0.48, "iterations": 6},
      "expected_result": "Single connected landmass covering 45-55% of map"
    },
    {
      "step": 2,
      "objective": "Create three height layers",
      "tool_name": "HeightLayerModifier",
      "arguments": {"layer_count": 3, "layer_heights": [0.0, 0.35, 0.7], "blend_factor": 0.12},
      "expected_result": "Three distinct zones: lowlands, midlands, peaks"
    }
  ],
  "risks": []
}`

const demoRevise = `{
  "decision": "revise",
  "blocking_issues": [
    {
      "step": 1,
      "issue": "width and height of 512 exceed the documented range [16, 256]",
      "severity": "critical",
      "suggestion": "Use 128 for both width and height"
    },
    {
      "step": 2,
      "issue": "The request asks for grass on midlands and rocks in lowlands but no step places them",
      "severity": "major",
      "suggestion": "Add GrassDetailModifier on layer 1 and ScatterModifier with rocks on layer 0"
    }
  ],
  "missing_information": [],
  "review_notes": "Height layer thresholds are ascending and within range."
}`

const demoFinalPlan = `{
  "trajectory_summary": "Generate a mountain terrain using cellular automata for base landmass, Perlin noise for elevation, height layers for distinct zones, grass on midlands, and rocks in lowlands.",
  "tool_plan": [
    {
      "step": 1,
      "objective": "Create single connected mountain base",
      "tool_name": "CellularAutomataGenerator",
      "arguments": {"width": 128, "height": 128, "fill_probability": 0.48, "iterations": 6, "birth_limit": 4, "death_limit": 3},
      "expected_result": "Single connected landmass covering 45-55% of map"
    },
    {
      "step": 2,
      "objective": "Apply elevation using Perlin noise",
      "tool_name": "PerlinNoiseGenerator",
      "arguments": {"width": 128, "height": 128, "scale": 0.04, "octaves": 5, "persistence": 0.55},
      "expected_result": "Smooth elevation gradient for mountain terrain"
    },
    {
      "step": 3,
      "objective": "Create three height layers",
      "tool_name": "HeightLayerModifier",
      "arguments": {"layer_count": 3, "layer_heights": [0.0, 0.35, 0.7], "blend_factor": 0.12},
      "expected_result": "Three distinct zones: lowlands, midlands, peaks"
    },
    {
      "step": 4,
      "objective": "Add grass to midlands",
      "tool_name": "GrassDetailModifier",
      "arguments": {"target_layer": 1, "coverage": 0.65, "height_variation": 0.3},
      "expected_result": "Natural grass coverage on middle elevation"
    },
    {
      "step": 5,
      "objective": "Scatter rocks in lowlands",
      "tool_name": "ScatterModifier",
      "arguments": {"object_type": "rock", "density": 0.15, "valid_layers": [0], "random_rotation": true},
      "expected_result": "Rocks scattered around mountain base"
    }
  ],
  "risks": [
    "Cellular automata fill_probability may need tuning for desired landmass size",
    "Height layer thresholds affect zone proportions"
  ]
}`

const demoApprove = `{
  "decision": "approve",
  "blocking_issues": [],
  "missing_information": [],
  "review_notes": "All tool names exist, parameters are within valid ranges, and the execution sequence is correct."
}`
