package models

import "strings"

var weaponPrefixes = []struct {
	category string
	prefixes []string
}{
	{"pistol", []string{"Glock-18", "USP-S", "P250", "CZ75-Auto", "Five-SeveN", "Tec-9", "Desert Eagle", "R8 Revolver", "P2000", "Dual Berettas"}},
	{"rifle", []string{"AK-47", "M4A4", "M4A1-S", "FAMAS", "Galil AR", "AUG", "SG 553"}},
	{"sniper", []string{"AWP", "SSG 08", "SCAR-20", "G3SG1"}},
	{"smg", []string{"MP9", "MP5-SD", "MAC-10", "PP-Bizon", "UMP-45", "P90", "MP7"}},
	{"shotgun", []string{"XM1014", "MAG-7", "Nova", "Sawed-Off"}},
	{"mg", []string{"M249", "Negev"}},
}

// Classify 根据 market hash name 粗分类别
func Classify(name string) string {
	name = strings.TrimPrefix(name, "StatTrak™ ")
	name = strings.TrimPrefix(name, "Souvenir ")
	switch {
	case strings.HasPrefix(name, "★"):
		if strings.Contains(name, "Gloves") || strings.Contains(name, "Wraps") {
			return "glove"
		}
		return "knife"
	case strings.HasPrefix(name, "Sticker |"), strings.HasPrefix(name, "Patch |"):
		return "sticker"
	case strings.Contains(name, " Case"), strings.Contains(name, "Capsule"), strings.Contains(name, "Package"):
		return "case"
	}
	for _, wp := range weaponPrefixes {
		for _, p := range wp.prefixes {
			if strings.HasPrefix(name, p) {
				return wp.category
			}
		}
	}
	return "other"
}

// Wear 提取括号里的磨损等级，例如 "Field-Tested"
func Wear(name string) string {
	i := strings.LastIndex(name, " (")
	if i < 0 || !strings.HasSuffix(name, ")") {
		return ""
	}
	return name[i+2 : len(name)-1]
}
