package combat

// StatBlock is the unscaled template of an enemy kind.
type StatBlock struct {
	Kind   string
	Name   string
	HP     int
	Damage int
	Score  int
}

// DefaultBestiary lists regular enemies from weakest to strongest. Every stat
// is non-decreasing along the list.
var DefaultBestiary = []StatBlock{
	{Kind: "slime", Name: "Slime", HP: 30, Damage: 10, Score: 100},
	{Kind: "skeleton", Name: "Skeleton", HP: 45, Damage: 13, Score: 180},
	{Kind: "ghost", Name: "Ghost", HP: 55, Damage: 16, Score: 240},
	{Kind: "zombie", Name: "Zombie", HP: 70, Damage: 19, Score: 300},
	{Kind: "demon", Name: "Demon", HP: 90, Damage: 25, Score: 400},
}

// DefaultBoss guards the final encounter.
var DefaultBoss = StatBlock{Kind: "dragon", Name: "Dragon", HP: 120, Damage: 30, Score: 500}

// enemyFor builds the enemy for the zero-based encounter index. Regular
// enemies are picked by tier along the bestiary and all stats are scaled by
// the run's progress, so the curve never decreases. The last index is
// always the boss.
func (c *Config) enemyFor(index int) Enemy {
	total := c.TotalEncounters
	progress := float64(index+1) / float64(total)
	scale := 1 + progress*(c.DifficultyScaling-1)

	block := c.Boss
	boss := index >= total-1
	if !boss && len(c.Bestiary) > 0 {
		tier := index * len(c.Bestiary) / (total - 1)
		block = c.Bestiary[min(tier, len(c.Bestiary)-1)]
	}

	hp := max(1, int(float64(block.HP)*scale))
	return Enemy{
		Kind:       block.Kind,
		Name:       block.Name,
		HP:         hp,
		MaxHP:      hp,
		Damage:     int(float64(block.Damage) * scale),
		ScoreValue: int(float64(block.Score) * scale),
		IsBoss:     boss,
	}
}
