package ai

const summaryPrompt = `Summarize the following text in one or two sentences. Keep names, numbers and products. Return only the summary.

Text to summarize:
"""
%s
"""`

const tagPrompt = `You are a highly intelligent content analysis engine. Your task is to extract the most relevant keywords and concepts from the provided text to be used as organizational tags.

Follow these rules strictly:
1.  Generate between 2 and 5 tags.
2.  Tags should be concise (1-3 words) and represent the core topics.
3.  Prioritize key entities (people, products, companies), primary themes, and specific technologies.
4.  Do not generate generic or vague tags like "information" or "article".
5.  Return the tags as a single, comma-separated string ONLY. Example: "AI, Gemini Nano, On-Device AI, Web Development".
6.  Do not add any preamble, explanation, or other text. Only return the comma-separated list.

Text to analyze:
"""
%s
"""`

// Verdict phrases the provenance prompt asks for, in response order.
const (
	verdictAuthentic   = "High Confidence of Authenticity"
	verdictCaution     = "Moderate Signs of Manipulation"
	verdictManipulated = "Strong Indicators of AI Generation"
)

const provenancePrompt = `You are a world-class digital image forensic analyst. Your task is to analyze the provided image for any signs of digital alteration or AI generation. Be objective, technical, and precise.

Examine the following forensic markers:
1.  **Anatomy & Proportions:** Look for unnatural details in hands, fingers, eyes, teeth, and body proportions.
2.  **Light & Shadow:** Check for inconsistent light sources, impossible shadows, or reflections that don't match the environment.
3.  **Textures & Surfaces:** Analyze skin texture, hair strands, fabric patterns, and background details for waxy, overly smooth, or strangely detailed patterns characteristic of some AI models.
4.  **Logical Inconsistencies:** Identify any elements that defy physics or common sense (e.g., floating objects, nonsensical text in the background).

After your analysis, you MUST format your response in two parts, separated by '---':
1.  A final verdict on a single line: "Verdict: [` + verdictAuthentic + ` | ` + verdictCaution + ` | ` + verdictManipulated + `]".
2.  A bulleted list under the heading "Forensic Findings:" detailing your specific observations.

Example Response:
Verdict: ` + verdictManipulated + `
---
Forensic Findings:
- The subject's left hand has six fingers.
- Shadows cast by the subject and the tree in the background are inconsistent with a single light source.`

const queryPrompt = `You are a semantic search and filtering engine for a user's private research notebook.
I will provide a user's search query and a list of their saved research cards in a simplified JSON format.
Identify ONLY the cards that are the most direct and relevant answers to the query.

Rules:
1.  Analyze the query against each card's 'summary', 'tags', and 'contentSnippet'. A strong match in any of these fields makes a card a candidate.
2.  Your SOLE output must be a comma-separated list of the 'id' numbers for the matching cards.
3.  Example of correct output: "3, 7, 12"
4.  If no cards are relevant to the query, return an empty string.
5.  Do not include any other text, explanation, headers, or formatting.

User Query: %q

Research Cards JSON:
%s`
