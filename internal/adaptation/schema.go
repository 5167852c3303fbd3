package adaptation

import (
	"fmt"
	"math"
	"slices"
)

// Category groups actions by the accessibility need they serve.
type Category string

const (
	CategoryMotor     Category = "motor"
	CategoryVisual    Category = "visual"
	CategoryHandsFree Category = "hands_free"
	CategoryOther     Category = "other"
)

// Accessibility reports whether the category targets a declared need.
func (c Category) Accessibility() bool {
	return c == CategoryMotor || c == CategoryVisual || c == CategoryHandsFree
}

const (
	maxFactor       = 4.0
	maxBorderWidth  = 20.0
	maxRepositionPx = 500.0
)

var (
	contrastLevels = []string{"high", "normal", "inverted"}
	modalities     = []string{"voice", "gesture", "touch", "keyboard"}
	layoutLevels   = []string{"reduced", "minimal", "default"}
)

// Check decodes a and validates its parameters. A nil error means the
// adaptation conforms to the output contract.
func Check(a Adaptation) error {
	v, err := Decode(a)
	if err != nil {
		return err
	}
	pc := paramChecker{}
	v.Accept(&pc)
	return pc.err
}

// CategoryOf maps an adaptation to its accessibility category. Adaptations
// that do not decode are CategoryOther.
func CategoryOf(a Adaptation) Category {
	v, err := Decode(a)
	if err != nil {
		return CategoryOther
	}
	c := categorizer{cat: CategoryOther}
	v.Accept(&c)
	return c.cat
}

type paramChecker struct {
	err error
}

func (p *paramChecker) factor(name string, f float64) {
	if math.IsNaN(f) || f <= 0 || f > maxFactor {
		p.err = fmt.Errorf("%s: factor %v outside (0, %v]", name, f, maxFactor)
	}
}

func (p *paramChecker) oneOf(name, got string, allowed []string) {
	if !slices.Contains(allowed, got) {
		p.err = fmt.Errorf("%s: mode %q not one of %v", name, got, allowed)
	}
}

func (p *paramChecker) VisitButtonSize(v ButtonSize)   { p.factor(string(IncreaseButtonSize), v.Factor) }
func (p *paramChecker) VisitSliderSize(v SliderSize)   { p.factor(string(IncreaseSliderSize), v.Factor) }
func (p *paramChecker) VisitFontSize(v FontSize)       { p.factor(string(IncreaseFontSize), v.Factor) }
func (p *paramChecker) VisitSpacing(v Spacing)         { p.factor(string(AdjustSpacing), v.Factor) }
func (p *paramChecker) VisitScrollSpeed(v ScrollSpeed) { p.factor(string(AdjustScrollSpeed), v.Factor) }

func (p *paramChecker) VisitButtonBorder(v ButtonBorder) {
	if math.IsNaN(v.Width) || v.Width <= 0 || v.Width > maxBorderWidth {
		p.err = fmt.Errorf("%s: width %v outside (0, %v]", IncreaseButtonBorder, v.Width, maxBorderWidth)
	}
}

func (p *paramChecker) VisitContrast(v Contrast) {
	p.oneOf(string(IncreaseContrast), v.Level, contrastLevels)
}

func (p *paramChecker) VisitModeSwitch(v ModeSwitch) {
	p.oneOf(string(SwitchMode), v.Modality, modalities)
}

func (p *paramChecker) VisitButtonTrigger(ButtonTrigger) {}

func (p *paramChecker) VisitLayoutSimplification(v LayoutSimplification) {
	p.oneOf(string(SimplifyLayout), v.Level, layoutLevels)
}

func (p *paramChecker) VisitTooltip(Tooltip) {}

func (p *paramChecker) VisitReposition(v Reposition) {
	if math.IsNaN(v.Offset) || math.Abs(v.Offset) > maxRepositionPx || v.Offset == 0 {
		p.err = fmt.Errorf("%s: offset %v outside [-%v, %v] or zero", RepositionElement, v.Offset, maxRepositionPx, maxRepositionPx)
	}
}

type categorizer struct {
	cat Category
}

func (c *categorizer) VisitButtonSize(ButtonSize)     { c.cat = CategoryMotor }
func (c *categorizer) VisitButtonBorder(ButtonBorder) { c.cat = CategoryMotor }
func (c *categorizer) VisitSliderSize(SliderSize)     { c.cat = CategoryMotor }
func (c *categorizer) VisitSpacing(Spacing)           { c.cat = CategoryMotor }
func (c *categorizer) VisitFontSize(FontSize)         { c.cat = CategoryVisual }
func (c *categorizer) VisitContrast(Contrast)         { c.cat = CategoryVisual }
func (c *categorizer) VisitScrollSpeed(ScrollSpeed)   { c.cat = CategoryOther }

func (c *categorizer) VisitModeSwitch(v ModeSwitch) {
	if v.Modality == "voice" || v.Modality == "gesture" {
		c.cat = CategoryHandsFree
	}
}

func (c *categorizer) VisitButtonTrigger(ButtonTrigger)               {}
func (c *categorizer) VisitLayoutSimplification(LayoutSimplification) {}
func (c *categorizer) VisitTooltip(Tooltip)                           {}
func (c *categorizer) VisitReposition(Reposition)                     {}
