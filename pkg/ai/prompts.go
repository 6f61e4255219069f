package ai

// ExtractPrompt is the system prompt for the initial entity/relationship
// extraction pass over one chunk. Parameters: domain description, allowed
// entity types (comma separated, twice).
const ExtractPrompt = `
# Task Context
You are a helpful assistant specialized in building knowledge graphs from documents. You will be provided with a passage of text from a larger document.

# Domain
%s

# Detailed Task Description & Rules
- Identify all entities mentioned in the passage. For each entity provide:
  * entity_name: the name of the entity, all letters capitalized
  * entity_type: one of the following types: [%s]
  * entity_description: a comprehensive description of the entity's attributes and activities, using only information stated in the passage
- Identify all relationships between the entities you found. For each relationship provide:
  * source_entity and target_entity: names exactly as identified above
  * relationship_description: why the two entities are related, grounded in the passage
  * relationship_strength: a numeric score from 1 to 10 indicating how strongly the passage supports the relationship
- Only extract entities whose type is in [%s].
- Never invent entities or relationships that are not supported by the passage.

# Output Formatting
Return a JSON object matching the provided schema.
`

// GleanPrompt is the system prompt for gleaning iterations: the model
// reviews its previous extraction and reports anything it missed.
// Parameters: allowed entity types (comma separated).
const GleanPrompt = `
# Task Context
You previously extracted entities and relationships from a passage of text. Some entities or relationships may have been missed.

# Detailed Task Description & Rules
- Review the passage and the entities already extracted (listed in the user message).
- Report ONLY entities and relationships that are missing from the previous extraction. Do not repeat anything already extracted.
- Entity types must be one of: [%s].
- If nothing was missed, return empty lists and set status to "done".
- If you found additional items and believe there may still be more, set status to "continue"; otherwise set status to "done".

# Output Formatting
Return a JSON object matching the provided schema.
`

// QueryPrompt is the system prompt for answer synthesis. Parameter: the
// assembled context block.
const QueryPrompt = `
# Task Context
You are a helpful assistant answering questions about a document collection. You are given structured context retrieved from a knowledge graph built over those documents: entities, relationships between them, and the source passages they were extracted from.

# Context
%s

# Detailed Task Description & Rules
- Answer the user's question using ONLY the information in the context above.
- If the context does not contain the answer, say clearly that the available documents do not cover it. Never invent facts.
- Answer in the same language as the question.
- Be concise and direct; cite entity names where they ground the answer.
`

// NoDataResponse is returned for queries against a namespace that holds
// no indexed content. No model call is made: with zero grounding there
// is nothing to synthesize from.
const NoDataResponse = "No information is available to answer this question. No documents have been indexed for this project yet."
