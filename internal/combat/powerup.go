package combat

// PowerupID names a consumable item kind.
type PowerupID string

const (
	HealthPotion PowerupID = "health_potion"
	ShieldCharm  PowerupID = "shield"
	DoubleDamage PowerupID = "double_damage"
	LuckyCoin    PowerupID = "lucky_coin"
)

// Effect is what a power-up does when used. The set of effects is closed:
// Heal, Shield, DamageBoost and ScoreBoost.
type Effect interface {
	isEffect()
}

// Heal restores hit points up to the player's maximum.
type Heal struct{ Amount int }

// Shield adds to the shield that absorbs enemy retaliation.
type Shield struct{ Amount int }

// DamageBoost multiplies the damage of the next resolved turn.
type DamageBoost struct{ Factor float64 }

// ScoreBoost multiplies the score awarded for the next kill.
type ScoreBoost struct{ Factor float64 }

func (Heal) isEffect()        {}
func (Shield) isEffect()      {}
func (DamageBoost) isEffect() {}
func (ScoreBoost) isEffect()  {}

// Powerup is an entry of the drop table.
type Powerup struct {
	ID         PowerupID
	Name       string
	Effect     Effect
	DropChance float64
}

// DefaultPowerups is the drop table, rolled in order after every kill.
var DefaultPowerups = []Powerup{
	{ID: HealthPotion, Name: "Health Potion", Effect: Heal{Amount: 30}, DropChance: 0.30},
	{ID: ShieldCharm, Name: "Shield", Effect: Shield{Amount: 20}, DropChance: 0.25},
	{ID: DoubleDamage, Name: "Double Damage", Effect: DamageBoost{Factor: 2}, DropChance: 0.20},
	{ID: LuckyCoin, Name: "Lucky Coin", Effect: ScoreBoost{Factor: 1.5}, DropChance: 0.25},
}

func (c *Config) powerup(id PowerupID) (Powerup, bool) {
	for _, p := range c.Powerups {
		if p.ID == id {
			return p, true
		}
	}
	return Powerup{}, false
}

// apply performs the effect on the player.
func apply(p *Player, effect Effect) {
	switch e := effect.(type) {
	case Heal:
		p.HP = min(p.MaxHP, p.HP+e.Amount)
	case Shield:
		p.Shield += e.Amount
	case DamageBoost:
		p.DamageMultiplier = e.Factor
	case ScoreBoost:
		p.ScoreMultiplier = e.Factor
	}
}
