package repository

// Package repository contains data access layer abstractions.
// Implementations can live in subpackages (e.g., postgres) inside this directory.
// Interfaces here declare persistence operations only; query semantics follow
// the finder-method naming convention (FindByX, FindByXAndY, FindByXContaining,
// ExistsByX, DeleteByX) so intent is readable from the signature alone.

type Repository interface{}
