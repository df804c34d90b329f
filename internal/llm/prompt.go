package llm

// buildPrompt creates the OCR prompt sent with every page image
func buildPrompt() string {
	return `Recognize all text from the uploaded image and precisely reproduce it in markdown format.
Maintain the original layout, formatting, and styling exactly as shown in the image.

FORMATTING RULES:
- Reproduce headings with Markdown headers (#, ##, ###) matching their visual hierarchy
- Reproduce tables as Markdown tables with the same rows and columns
- Reproduce bulleted and numbered lists as Markdown lists
- Reproduce mathematical notation as LaTeX between $ delimiters
- Keep the reading order of multi-column pages

Do not include any additional explanations, reasoning, or commentary; only output the markdown content.
If the page has no text, output nothing.`
}
