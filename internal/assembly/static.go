package assembly

// StaticContent holds the page text that comes from neither the kernel nor
// the LLM.
var StaticContent = struct {
	BadgeKnowledgeHub   string
	BadgePedagogyHub    string
	BadgeCTAHub         string
	BadgePedagogyTheme  string
	BadgeCTATheme       string
	BadgeKnowledgeEssay string
	BadgePedagogyEssay  string
	BadgeCTAEssay       string

	HeadingPedagogyHub string
	Prompts            []string
	ThreeStepTitles    [3]string
	FourSteps          [4]Step

	CTAPrimaryEssay   string
	CTASecondaryEssay string
	BuildThesisText   string
	BackToHubText     string

	FallbackFormula     string
	FallbackStructure   string
	FallbackFirstDevice string
}{
	BadgeKnowledgeHub:   "Knowledge: What the Book Does",
	BadgePedagogyHub:    "Pedagogy: How to Read for Patterns",
	BadgeCTAHub:         "Action: Explore Through Themes",
	BadgePedagogyTheme:  "Pedagogy: How to Analyze This Theme",
	BadgeCTATheme:       "Action: Keep Exploring",
	BadgeKnowledgeEssay: "Knowledge: Building Your Thesis",
	BadgePedagogyEssay:  "Pedagogy: From Pattern to Thesis",
	BadgeCTAEssay:       "Action: Get Support",

	HeadingPedagogyHub: "What Pattern-Recognition Means",
	Prompts: []string{
		"What's the cumulative effect of these devices working together?",
		"Why would the author choose this particular combination?",
		"What reader experience does this pattern create?",
	},
	ThreeStepTitles: [3]string{
		"Identify the Pattern's Effect",
		"Connect Devices to This Effect",
		"Articulate Theme Meaning",
	},
	// Step 3 content is replaced with the pattern question at assembly.
	FourSteps: [4]Step{
		{Step: 1, Title: "Choose your theme", Content: "Select from the themes above"},
		{Step: 2, Title: "Identify devices", Content: "Which devices create this theme?"},
		{Step: 3, Title: "Connect to pattern"},
		{Step: 4, Title: "Synthesize", Content: "Combine into clear thesis statement"},
	},

	CTAPrimaryEssay:   "Get help developing your thesis",
	CTASecondaryEssay: "Upload your draft",
	BuildThesisText:   "Build Your Thesis",
	BackToHubText:     "Back to Hub",

	FallbackFormula:     "Device 1 + Device 2 + Device 3",
	FallbackStructure:   "Multiple chapters",
	FallbackFirstDevice: "the key device",
}
