package knowledge

import "github.com/hupe1980/streamchat/core"

// NewSampleBase returns a Base seeded with a handful of analytical
// psychology concepts, enough for demos and the development server.
func NewSampleBase() *Base {
	b := NewBase()
	for _, e := range sampleEntries {
		b.Add(e)
	}
	return b
}

var sampleEntries = []Entry{
	{
		Name:        "Individuation",
		Category:    "Psychological process",
		Description: "The process of psychological development that integrates the conscious and unconscious aspects of the psyche into a whole personality.",
		Related:     []string{"Self", "Shadow", "Persona"},
		References: []core.Reference{
			{Title: "The Relations between the Ego and the Unconscious", Author: "C. G. Jung", Year: 1928},
			{Title: "Psychology and Alchemy", Author: "C. G. Jung", Year: 1944},
		},
	},
	{
		Name:        "Shadow",
		Category:    "Archetype",
		Description: "The repressed or denied aspects of the personality, often projected onto others until they are recognized and integrated.",
		Related:     []string{"Persona", "Individuation", "Personal unconscious"},
		References: []core.Reference{
			{Title: "Psychology and Alchemy", Author: "C. G. Jung", Year: 1944},
			{Title: "Aion", Author: "C. G. Jung", Year: 1951},
		},
	},
	{
		Name:        "Persona",
		Category:    "Archetype",
		Description: "The social mask a person presents to the world, a compromise between individual and society about what one should appear to be.",
		Related:     []string{"Shadow", "Ego"},
		References: []core.Reference{
			{Title: "The Relations between the Ego and the Unconscious", Author: "C. G. Jung", Year: 1928},
		},
	},
	{
		Name:        "Self",
		Category:    "Archetype",
		Description: "The archetype of wholeness and the regulating center of the psyche, encompassing both conscious and unconscious.",
		Related:     []string{"Individuation", "Mandala"},
		References: []core.Reference{
			{Title: "Aion", Author: "C. G. Jung", Year: 1951},
		},
	},
	{
		Name:        "Collective unconscious",
		Category:    "Structure of the psyche",
		Description: "The deepest layer of the unconscious, shared by all humans and populated by archetypes inherited rather than acquired.",
		Related:     []string{"Archetype", "Personal unconscious"},
		References: []core.Reference{
			{Title: "The Archetypes and the Collective Unconscious", Author: "C. G. Jung", Year: 1959},
		},
	},
	{
		Name:        "Anima",
		Category:    "Archetype",
		Description: "The feminine inner figure in the psyche of a man, mediating between the ego and the unconscious.",
		Related:     []string{"Animus", "Syzygy"},
		References: []core.Reference{
			{Title: "Aion", Author: "C. G. Jung", Year: 1951},
			{Title: "The Archetypes and the Collective Unconscious", Author: "C. G. Jung", Year: 1959},
		},
	},
}
