package oracle

// System prompt shared by all oracle calls.
const systemPrompt = `You are an emission-factor assignment expert working with a life-cycle inventory database. Activity names, product names, geographies, and units in the database are authoritative strings; never modify or invent them. You respond with strict JSON only, no surrounding prose.`

// selectionPromptTemplate asks for match / ambiguous / decompose over a
// candidate list. Placeholders: label, product info, reference unit, region,
// candidates JSON.
const selectionPromptTemplate = `Task: Select the best emission dataset for this input row, or propose a decomposition if none fits.

Input row:
- Label: %q
- Product info: %q
- Reference unit: %q
- Region: %q

Candidates (rows from the database; do not modify any strings):
%s

Rules:
- Prefer cradle-to-gate production processes.
- Prefer region order: requested region > GLO > RoW.
- Prefer candidates whose unit matches the reference unit.
- If ONE candidate is clearly the best match, choose "match" and return its id.
- If multiple candidates are plausible, choose "ambiguous" and return a ranked list of up to 10 options.
- If NO candidate plausibly represents the input, choose "decompose" and break the product into 3-10 physical components whose quantities sum to exactly 1.0 reference unit.

You MUST respond with ONLY this JSON structure (no other text):

{
  "decision": "match" | "ambiguous" | "decompose",
  "match": {"id": "exact-id-from-candidates"},
  "ambiguous": {"options": [{"id": "...", "why_short": "short reason this candidate is plausible"}]},
  "decompose": {
    "assumptions": ["assumptions about composition, weights, etc."],
    "components": [{"component_label": "descriptive name", "assumed_quantity": 0.35, "assumed_unit": "kg", "search_query_text": "English search query"}]
  }
}

Include ONLY the section matching your decision.`

// componentPromptTemplate restricts the decision to match or ambiguous.
// Used when resolving decomposition components; nesting is not allowed.
const componentPromptTemplate = `Task: Select the best emission dataset for this component. You MUST choose either "match" or "ambiguous" - decomposition is NOT allowed for components.

Input component:
- Label: %q
- Product info: %q
- Reference unit: %q
- Region: %q

Candidates (rows from the database; do not modify any strings):
%s

Rules:
- Prefer cradle-to-gate production processes.
- Prefer region order: requested region > GLO > RoW.
- Prefer candidates whose unit matches the reference unit.
- If ONE candidate is clearly the best match, choose "match" and return its id.
- If multiple candidates are plausible, choose "ambiguous" and return a ranked list of up to 10 options.
- IMPORTANT: Decomposition is NOT ALLOWED. You must pick from the provided candidates.

You MUST respond with ONLY this JSON structure (no other text):

{
  "decision": "match" | "ambiguous",
  "match": {"id": "exact-id-from-candidates"},
  "ambiguous": {"options": [{"id": "...", "why_short": "short reason this candidate is plausible"}]}
}

Include ONLY the relevant section based on your decision.`

// decompositionPromptTemplate asks for a decomposition outright.
// Placeholders: label, product info, reference unit (x3), region, reason,
// reference unit (x4).
const decompositionPromptTemplate = `Decompose this product into physical components for emission factor calculation.

Product:
- Label: %q
- Product info: %q
- Reference unit: %q
- Region: %q

Reason for decomposition: %s

MANDATORY CONSTRAINT: the sum of ALL component quantities MUST equal 1.0 %s.

You are decomposing exactly 1 %s of this product. Each component is a fraction of that 1 %s, and the fractions must add up to exactly 1.0.

Rules:
- 3-10 physical components.
- All components should use %q as unit where possible.
- Use English search queries for each component.
- component_label must be descriptive (e.g. "beef patty", "wheat bun", never generic "materials").

Before writing the JSON, add up all quantities and verify the sum is 1.0.

Respond with ONLY this JSON:

{
  "decision": "decompose",
  "decompose": {
    "assumptions": ["list all assumptions about composition, weights, etc."],
    "components": [{"component_label": "descriptive name", "assumed_quantity": 0.35, "assumed_unit": %q, "search_query_text": "English search query"}]
  }
}`

// sumCorrectionTemplate is the feedback turn sent when component quantities
// fail the sum constraint. Placeholders: actual sum, unit, component list,
// unit.
const sumCorrectionTemplate = `WRONG: your components sum to %.3f %s, but they must sum to exactly 1.0. Components: %s. Recalculate with quantities that sum to 1.0 %s and return the corrected JSON only.`

// conversionPromptTemplate asks for a unit conversion factor. Placeholders:
// product context, reference unit, dataset unit, dataset unit, reference
// unit.
const conversionPromptTemplate = `You are a unit conversion expert. Convert between the following units:

Product context: %s
Reference unit (target): %s
Dataset unit (source): %s

Task: calculate how many %s are needed to represent exactly 1 %s of this product. Use your knowledge of energy content, weight, volume, and other physical properties.

Respond with ONLY this JSON (no other text):

{
  "conversion_factor": <number>,
  "explanation": "brief explanation of how you calculated this conversion"
}`
